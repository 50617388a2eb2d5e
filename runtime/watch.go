package runtime

import (
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"io"
	"path/filepath"
	"time"
)

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

// watchFile calls onChange once the file has been quiet for debounce after a change.
// The containing directory is watched so editors that replace the file by rename are still seen.
func watchFile(log hclog.Logger, file string, debounce time.Duration, onChange func()) (io.Closer, error) {
	file = filepath.Clean(file)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	log = log.Named("watch").With("file", file)

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		resetTimer := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			timerC = timer.C
		}
		for {
			select {
			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			case <-timerC:
				timerC = nil
				log.Debug("Rules file changed")
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("Watcher error", "error", err)
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if shouldTriggerReload(file, evt) {
					resetTimer()
				}
			}
		}
	}()

	log.Info("Watching rules file", "debounce", debounce.String())
	return closerFunc(func() error {
		close(stopCh)
		err := watcher.Close()
		<-doneCh
		return err
	}), nil
}

func shouldTriggerReload(file string, evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != file {
		return false
	}
	return evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}
