package generic

import "sync"

// ParallelEach calls exec for every item on its own goroutine and returns
// the error of the lowest failing index.
func ParallelEach[T any](items []T, exec func(i int, item T) error) error {
	var (
		wg   sync.WaitGroup
		errs = make([]error, len(items))
	)
	wg.Add(len(items))
	for i, item := range items {
		go func(i int, item T) {
			defer wg.Done()
			errs[i] = exec(i, item)
		}(i, item)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
