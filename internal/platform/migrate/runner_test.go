package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPgx5DSN(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "pgx5://u:p@localhost:5432/db?sslmode=disable"},
		{"postgresql://u:p@localhost:5432/db", "pgx5://u:p@localhost:5432/db"},
		{"pgx5://u:p@localhost/db", "pgx5://u:p@localhost/db"},
		{"host=localhost user=u dbname=db", "host=localhost user=u dbname=db"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, toPgx5DSN(tc.in), tc.in)
	}
}

func TestDownRejectsNonPositiveSteps(t *testing.T) {
	r := NewRunner(nil, "postgres://localhost/db", nil)
	assert.Error(t, r.Down(0))
}
