package lockfile

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Take acquires the lock at path, creating it exclusively. While the
// lock is held by someone else, waiting is invoked and the attempt
// retries every second until ctx is done. The returned func releases
// the lock.
func Take(ctx context.Context, path string, waiting func()) (func(), error) {
	tk := time.NewTicker(time.Second)
	defer tk.Stop()

	var (
		f   *os.File
		err error
	)

	for {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			break
		}

		if waiting != nil {
			waiting()
		}

		select {
		case <-tk.C:
			// ok
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// record the holder so a stuck lock can be diagnosed
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	closer := func() {
		os.Remove(path)
	}

	return closer, nil
}
