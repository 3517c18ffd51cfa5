//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/clock"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
	"github.com/eliteGoblin/focusd/site_mon/internal/server"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/site_mon/test/fixtures"
)

const blockBase = "http://127.0.0.1:7770/blocked"

// at returns the given wall-clock time on the simulated day.
func at(hour, minute int) time.Time {
	return time.Date(2025, 6, 2, hour, minute, 0, 0, time.UTC)
}

func mustWindow(s string) domain.TimeWindow {
	w, err := policy.ParseWindow(s)
	Expect(err).NotTo(HaveOccurred())
	return w
}

var _ = Describe("A day of browsing", Ordered, func() {
	var (
		tmpDir   string
		store    *infra.EncryptedStore
		browser  *fixtures.FakeBrowser
		clk      *clock.MockClock
		page     policy.BlockPage
		enforcer domain.Enforcer
		breaker  *usecase.Breaker

		video, docs, settings string
	)

	enforce := func() *domain.EnforcementResult {
		result, err := enforcer.Enforce(context.Background(), domain.TriggerPeriodicTick)
		Expect(err).NotTo(HaveOccurred())
		return result
	}

	BeforeAll(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "sitemon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.OpenStore(tmpDir, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		_, err = store.AddGroup(domain.RuleGroup{
			Name:     "work",
			Enabled:  true,
			Mode:     domain.ModeDeny,
			Patterns: []string{"*.youtube.com", "*.reddit.com"},
			Windows:  []domain.TimeWindow{mustWindow("09:00-17:00")},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.AddGroup(domain.RuleGroup{
			Name:     "evening reading",
			Enabled:  true,
			Mode:     domain.ModeAllow,
			Patterns: []string{"docs.go.dev"},
			Windows:  []domain.TimeWindow{mustWindow("21:00-23:00")},
		})
		Expect(err).NotTo(HaveOccurred())

		page, err = policy.NewBlockPage(blockBase)
		Expect(err).NotTo(HaveOccurred())

		cache, err := infra.NewDecisionCache(128)
		Expect(err).NotTo(HaveOccurred())

		clk = clock.NewMockClock(at(8, 0))
		browser = fixtures.NewFakeBrowser()
		enforcer = usecase.NewEnforcerWithCache(store, browser, page, clk, cache, 2, zap.NewNop())
		breaker = usecase.NewBreaker(store, clk, zap.NewNop())

		video = browser.Open("https://www.youtube.com/watch?v=abc")
		docs = browser.Open("https://docs.go.dev/doc/effective_go")
		settings = browser.Open("chrome://settings")
	})

	AfterAll(func() {
		Expect(store.Close()).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	It("leaves every tab alone before work starts", func() {
		result := enforce()
		Expect(result.TabsSeen).To(Equal(3))
		Expect(result.Applied).To(BeEmpty())
	})

	It("blocks the video tab once the work window opens", func() {
		clk.Set(at(9, 30))
		result := enforce()
		Expect(result.Applied).To(HaveLen(1))
		Expect(result.Applied[0].Kind).To(Equal(domain.ActionBlock))

		Expect(page.IsBlockPage(browser.URL(video))).To(BeTrue())
		original, ok := page.Original(browser.URL(video))
		Expect(ok).To(BeTrue())
		Expect(original).To(Equal("https://www.youtube.com/watch?v=abc"))
		Expect(browser.URL(docs)).To(Equal("https://docs.go.dev/doc/effective_go"))
	})

	It("is idempotent on the next pass", func() {
		Expect(enforce().Applied).To(BeEmpty())
	})

	It("restores the exact original during a break", func() {
		clk.Set(at(10, 0))
		_, err := breaker.Start(15)
		Expect(err).NotTo(HaveOccurred())

		enforce()
		Expect(browser.URL(video)).To(Equal("https://www.youtube.com/watch?v=abc"))
	})

	It("re-blocks when the break runs out", func() {
		clk.Set(at(10, 16))
		state, err := breaker.State()
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Active).To(BeFalse())

		enforce()
		Expect(page.IsBlockPage(browser.URL(video))).To(BeTrue())
	})

	It("blocks a new tab opened on a denied subdomain", func() {
		forum := browser.Open("https://old.reddit.com/r/golang")
		enforce()
		Expect(page.IsBlockPage(browser.URL(forum))).To(BeTrue())
	})

	It("restores everything when the work window closes", func() {
		clk.Set(at(17, 0))
		enforce()
		Expect(browser.URL(video)).To(Equal("https://www.youtube.com/watch?v=abc"))
	})

	It("allows only the listed site during the evening allow-list", func() {
		clk.Set(at(22, 0))
		enforce()
		Expect(page.IsBlockPage(browser.URL(video))).To(BeTrue())
		Expect(browser.URL(docs)).To(Equal("https://docs.go.dev/doc/effective_go"))
		Expect(browser.URL(settings)).To(Equal("chrome://settings"))
	})

	It("keeps going when one tab fails to navigate", func() {
		clk.Set(at(22, 30))
		broken := browser.Open("https://news.ycombinator.com/")
		other := browser.Open("https://www.reddit.com/")
		browser.FailNavigation(broken, fixtures.ErrTabClosed)

		result := enforce()
		Expect(result.Failed).To(HaveLen(1))
		Expect(result.Errors).To(HaveLen(1))
		Expect(page.IsBlockPage(browser.URL(other))).To(BeTrue())
		browser.Close(broken)
	})

	It("unblocks every tab when blocking is disabled", func() {
		Expect(store.SetEnabled(false)).To(Succeed())
		enforce()
		for _, id := range []string{video, docs, settings} {
			Expect(page.IsBlockPage(browser.URL(id))).To(BeFalse())
		}
	})

	It("keeps the settings across a restart", func() {
		rev, err := store.Revision()
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Close()).To(Succeed())

		store, err = infra.OpenStore(tmpDir, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		cfg, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Revision).To(Equal(rev))
		Expect(cfg.ExtensionEnabled).To(BeFalse())
		Expect(cfg.RuleGroups).To(HaveLen(2))
		Expect(cfg.RuleGroups[0].Name).To(Equal("work"))
		Expect(cfg.RuleGroups[1].Mode).To(Equal(domain.ModeAllow))
	})
})

var _ = Describe("Block page server", func() {
	var (
		store   *fixtures.MemoryStore
		clk     *clock.MockClock
		ts      *httptest.Server
		client  *http.Client
		page    policy.BlockPage
		breaker *usecase.Breaker
	)

	BeforeEach(func() {
		var err error
		page, err = policy.NewBlockPage(blockBase)
		Expect(err).NotTo(HaveOccurred())

		store = fixtures.NewMemoryStore()
		clk = clock.NewMockClock(at(12, 0))
		breaker = usecase.NewBreaker(store, clk, zap.NewNop())
		ts = httptest.NewServer(server.New("127.0.0.1:0", page, breaker, zap.NewNop()).Handler())
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	})

	AfterEach(func() {
		ts.Close()
	})

	Context("when the user takes a break from the block page", func() {
		It("starts the break and sends the tab back", func() {
			resp, err := client.PostForm(ts.URL+"/break", url.Values{
				"minutes":     {"10"},
				"originalUrl": {"https://www.youtube.com/watch?v=abc"},
			})
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("https://www.youtube.com/watch?v=abc"))

			cfg, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Break.InEffect(clk.Now())).To(BeTrue())
		})

		It("refuses a second break", func() {
			_, err := breaker.Start(5)
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.PostForm(ts.URL+"/break", url.Values{"minutes": {"5"}})
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	It("serves the block page at the configured path", func() {
		addr := page.Address("https://reddit.com/", clk.Now())
		resp, err := client.Get(ts.URL + strings.TrimPrefix(addr, "http://127.0.0.1:7770"))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
