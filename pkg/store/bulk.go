package store

import "github.com/jackc/pgx/v4"

type memberRow struct {
	groupID, userID string
}

type memberBulk struct {
	rows []memberRow
	idx  int
}

func copyFromMembers(rows []memberRow) pgx.CopyFromSource {
	return &memberBulk{
		rows: rows,
		idx:  -1,
	}
}

func (mb *memberBulk) Next() bool {
	mb.idx++
	return mb.idx < len(mb.rows)
}

func (mb *memberBulk) Values() ([]interface{}, error) {
	return []interface{}{mb.rows[mb.idx].groupID, mb.rows[mb.idx].userID}, nil
}

func (mb *memberBulk) Err() error {
	return nil
}
