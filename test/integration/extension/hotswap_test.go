// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

//go:build integration

package extension_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/blockhost/blockhost/internal/extension"
	"github.com/blockhost/blockhost/internal/library"
	"github.com/blockhost/blockhost/internal/runtime"
	"github.com/blockhost/blockhost/internal/store"
	"github.com/blockhost/blockhost/internal/worker"
	"github.com/blockhost/blockhost/internal/worker/lua"
	"github.com/blockhost/blockhost/pkg/blockext"
)

const libraryDoc = `name: Integration
extensions:
  - id: pen
    version: 1.0.0
    type: lua
    lua:
      entry: pen.lua
`

// penVersion renders a pen extension whose size block multiplies by factor.
// Without size the script only offers down.
func penVersion(factor int, withSize bool) string {
	blocks := `{ opcode = "down", blockType = "command" }`
	if withSize {
		blocks += `, { opcode = "size", blockType = "reporter", arguments = { N = { type = "number", defaultValue = 1 } } }`
	}
	return fmt.Sprintf(`
local pen = { info = { id = "pen", name = "Pen", blocks = { %s } } }
function pen:down(args, util) return true end
function pen:size(args, util) return args.values.N * %d end
blockhost.extensions.register(pen)
`, blocks, factor)
}

// libraryServer serves libraryDoc and a pen script that can be swapped.
type libraryServer struct {
	*httptest.Server
	mu     sync.Mutex
	script string
}

func newLibraryServer() *libraryServer {
	s := &libraryServer{script: penVersion(2, true)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/library.yaml":
			_, _ = w.Write([]byte(libraryDoc))
		case "/pen.lua":
			s.mu.Lock()
			body := s.script
			s.mu.Unlock()
			_, _ = w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	}))
	return s
}

func (s *libraryServer) setScript(script string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

func (s *libraryServer) libraryURL() string {
	return s.URL + "/library.yaml"
}

func newHost(aliases extension.AliasStore) (*extension.Manager, *runtime.Runtime) {
	rt := runtime.New()
	rt.AddTarget("stage", "Stage", true)
	rt.AddTarget("sprite", "Sprite", false)

	fetcher := library.NewFetcher()
	transport := worker.NewTransport(lua.New(fetcher, lua.WithCallTimeout(5*time.Second)))
	m, err := extension.NewManager(rt, rt,
		extension.WithTransport(transport),
		extension.WithLibraryFetcher(fetcher),
		extension.WithAliasStore(aliases),
	)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = m.Close() })
	return m, rt
}

func size(ctx context.Context, rt *runtime.Runtime, n float64) any {
	out, err := rt.Execute(ctx, "pen_size", blockext.Args{Values: map[string]any{"N": n}}, blockext.Util{TargetID: "sprite"})
	Expect(err).NotTo(HaveOccurred())
	return out
}

var _ = Describe("Lua extensions loaded from a library", func() {
	var (
		ctx     context.Context
		srv     *libraryServer
		aliases *store.PostgresURLStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		env.truncate()
		aliases = store.NewPostgresURLStore(env.pool)
		srv = newLibraryServer()
		DeferCleanup(srv.Close)
	})

	It("runs blocks in a worker and remembers the library URL", func() {
		m, rt := newHost(aliases)

		ids, err := m.LoadByURL(ctx, srv.libraryURL(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(ConsistOf("pen"))
		Expect(m.AwaitAllLoaded(ctx)).To(Succeed())

		Expect(size(ctx, rt, 4)).To(Equal(8.0))

		u, ok, err := aliases.KnownURL(ctx, "pen")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(u).To(Equal(srv.libraryURL()))
	})

	It("loads a remembered id in a fresh host", func() {
		first, _ := newHost(aliases)
		_, err := first.LoadByURL(ctx, srv.libraryURL(), false)
		Expect(err).NotTo(HaveOccurred())

		second, rt := newHost(aliases)
		ids, err := second.LoadByURL(ctx, "pen", false)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(ConsistOf("pen"))
		Expect(size(ctx, rt, 1)).To(Equal(2.0))
	})

	It("hot swaps a worker extension without dropping blocks in use", func() {
		m, rt := newHost(aliases)
		_, err := m.LoadByURL(ctx, srv.libraryURL(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(rt.AddBlock("sprite", runtime.Block{ID: "b1", Opcode: "pen_size", Args: map[string]any{"N": 2.0}})).To(Succeed())

		By("rejecting a version that drops an opcode in use")
		srv.setScript(penVersion(3, false))
		_, err = m.LoadByURL(ctx, "pen", true)
		Expect(err).To(HaveOccurred())
		Expect(extension.Values(err)).To(ConsistOf("size"))
		Expect(size(ctx, rt, 2)).To(Equal(4.0))

		By("accepting a compatible version")
		srv.setScript(penVersion(3, true))
		_, err = m.LoadByURL(ctx, "pen", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.AwaitAllLoaded(ctx)).To(Succeed())

		Eventually(func() (any, error) {
			return rt.Run(ctx, "sprite", "b1")
		}).Should(Equal(6.0))
	})

	It("deletes an unused extension and forgets its primitives", func() {
		m, rt := newHost(aliases)
		_, err := m.LoadByURL(ctx, srv.libraryURL(), false)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.Delete(ctx, "pen")).To(Succeed())
		Expect(m.IsLoaded("pen")).To(BeFalse())
		Expect(rt.HasPrimitive("pen_size")).To(BeFalse())
	})
})
