// Package guard flips the process into test mode when imported, so entry points
// that check app.InTestMode skip their network bootstrapping.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CHATDESK_TEST_MODE") == "" {
			_ = os.Setenv("CHATDESK_TEST_MODE", "1")
		}
	})
}
