package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad password", &pq.Error{Code: "28P01"}, true},
		{"unknown database", &pq.Error{Code: "3D000"}, true},
		{"undefined table", fmt.Errorf("querying: %w", &pq.Error{Code: "42P01"}), true},
		{"too many connections", &pq.Error{Code: "53300"}, false},
		{"starting up", &pq.Error{Code: "57P03"}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}
