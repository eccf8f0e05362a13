package db

import (
	"errors"
	"testing"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name:       "postgres named constraint",
			err:        errors.New(`ERROR: duplicate key value violates unique constraint "idx_reservation_key" (SQLSTATE 23505)`),
			constraint: "idx_reservation_key",
			want:       true,
		},
		{
			name: "postgres generic",
			err:  errors.New(`ERROR: duplicate key value violates unique constraint "cart_reservations_pkey" (SQLSTATE 23505)`),
			want: true,
		},
		{
			name:       "sqlite phrasing with non-matching constraint name",
			err:        errors.New("UNIQUE constraint failed: cart_reservations.session_id, cart_reservations.product_id"),
			constraint: "idx_reservation_key",
			want:       true,
		},
		{
			name:       "unrelated error",
			err:        errors.New("connection refused"),
			constraint: "idx_reservation_key",
			want:       false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
				t.Fatalf("IsUniqueViolation(%v, %q) = %v, want %v", tc.err, tc.constraint, got, tc.want)
			}
		})
	}
}
