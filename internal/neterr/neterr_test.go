package neterr_test

import (
	"errors"
	"io"
	"syscall"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taskio/taskio/internal/neterr"
)

func TestNeterr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "neterr suite")
}

var _ = Describe("FromErrno", func() {
	It("maps ECONNREFUSED to ConnectionRefused", func() {
		err := neterr.FromErrno(syscall.ECONNREFUSED)
		Expect(err.Kind).To(Equal(neterr.ConnectionRefused))
		Expect(err.Name).To(Equal("ECONNREFUSED"))
	})

	It("falls back to Other for an unmapped errno", func() {
		err := neterr.FromErrno(syscall.ENOSYS)
		Expect(err.Kind).To(Equal(neterr.Other))
	})
})

var _ = Describe("FromNetError", func() {
	It("maps io.EOF to the EOF kind", func() {
		err := neterr.FromNetError(io.EOF)
		Expect(err.Kind).To(Equal(neterr.EOF))
	})

	It("unwraps a syscall.Errno wrapped by higher-level errors", func() {
		wrapped := errors.Join(errors.New("dial tcp"), syscall.ECONNREFUSED)
		err := neterr.FromNetError(wrapped)
		Expect(err.Kind).To(Equal(neterr.ConnectionRefused))
	})

	It("returns nil for a nil error", func() {
		Expect(neterr.FromNetError(nil)).To(BeNil())
	})
})
