package ltqcli

import "context"

// Runnable is the shape both *worker.Worker and *app.App satisfy: Run
// blocks until Stop is called (or a startup error occurs) and returns after
// drain; Stop requests shutdown. App.Stop also waits for drain, while
// Worker.Stop returns at once and leaves the wait to Run.
type Runnable interface {
	Run(ctx context.Context) error
	Stop()
}
