//go:build !unix

package host

import (
	"context"
	"errors"
)

// DialLocal returns a DialFunc for the local machine.
func DialLocal() DialFunc {
	return func(ctx context.Context) (Client, error) {
		return nil, errors.New("local connections are not supported on this platform")
	}
}
