//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

func newGCSStoreFromEnv(context.Context) (Store, error) {
	return nil, errors.New("GCS storage is not enabled in this build (use -tags gcp)")
}
