package bridge_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taskio/taskio/internal/bridge"
	"github.com/taskio/taskio/internal/reactor"
)

func TestBridge(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "bridge suite")
}

var _ = Describe("Ctx", func() {
	It("delivers the value passed to the matching Wake", func() {
		ctx := bridge.NewCtx[int]()
		go ctx.Wake(42)
		got := bridge.WaitUntilWokenAfter(ctx, func(*bridge.Ctx[int]) {})
		Expect(got).To(Equal(42))
	})

	It("panics on a second Wake", func() {
		ctx := bridge.NewCtx[int]()
		ctx.Wake(1)
		Expect(func() { ctx.Wake(2) }).To(Panic())
	})
})

var _ = Describe("Submit", func() {
	It("delivers the worker's result to the caller", func() {
		r := reactor.New("bridge-test", nil)
		defer r.Stop()
		home := reactor.NewHome(r)

		result := bridge.Submit(home, func() int {
			time.Sleep(5 * time.Millisecond)
			return 7
		})
		Expect(result).To(Equal(7))
	})
})
