package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("MODELGATE_TEST_MODE") == "" {
			_ = os.Setenv("MODELGATE_TEST_MODE", "1")
		}
	})
}
