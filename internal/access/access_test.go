package access_test

import (
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taskio/taskio/internal/access"
)

func TestAccess(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "access suite")
}

var _ = Describe("Access", func() {
	It("grants immediately when uncontended", func() {
		a := access.New()
		rel := a.Grant()
		Expect(rel).NotTo(BeNil())
		rel.Release()
	})

	It("serializes concurrent holders in FIFO order", func() {
		a := access.New()
		var (
			mu    sync.Mutex
			order []int
			wg    sync.WaitGroup
		)

		first := a.Grant()

		// Enqueue waiters one at a time, pausing after each launch so it has
		// actually reached the contended Grant call and enqueued itself before the
		// next waiter is spawned — otherwise which goroutine the scheduler runs
		// first is anyone's guess, and the assertion below would be flaky.
		const n = 5
		aboutToGrant := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				close(aboutToGrant)
				rel := a.Grant()
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				rel.Release()
			}(i)
			<-aboutToGrant
			aboutToGrant = make(chan struct{})
			time.Sleep(5 * time.Millisecond)
		}
		first.Release()
		wg.Wait()

		Expect(order).To(Equal([]int{0, 1, 2, 3, 4}))
	})

	It("releasing twice is a no-op", func() {
		a := access.New()
		rel := a.Grant()
		rel.Release()
		Expect(func() { rel.Release() }).NotTo(Panic())
	})
})
