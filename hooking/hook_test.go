package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("HookableBase", func() {
	var (
		mockCtrl *gomock.Controller
		base     *HookableBase
		hook1    *MockHook
		hook2    *MockHook
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		base = &HookableBase{}
		hook1 = NewMockHook(mockCtrl)
		hook2 = NewMockHook(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should invoke hooks in order", func() {
		pos := &HookPos{Name: "Test"}
		ctx := HookCtx{Pos: pos, Item: 1}

		base.AcceptHook(hook1)
		base.AcceptHook(hook2)

		gomock.InOrder(
			hook1.EXPECT().Func(ctx),
			hook2.EXPECT().Func(ctx),
		)

		base.InvokeHook(ctx)

		Expect(base.NumHooks()).To(Equal(2))
		Expect(base.Hooks()).To(HaveLen(2))
	})

	It("should panic on a duplicated hook", func() {
		base.AcceptHook(hook1)

		Expect(func() { base.AcceptHook(hook1) }).To(Panic())
	})

	It("should remove hooks", func() {
		base.AcceptHook(hook1)
		base.AcceptHook(hook2)

		base.RemoveHook(hook1)
		base.RemoveHook(hook1)

		hook2.EXPECT().Func(gomock.Any())

		base.InvokeHook(HookCtx{})

		Expect(base.NumHooks()).To(Equal(1))
	})
})
