// Package search finds community solutions for error messages.
package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxSolutionChars = 5000

// Solution is the best answer found for a query.
type Solution struct {
	Title    string `json:"title"`
	Solution string `json:"solution"`
	URL      string `json:"url"`
	Votes    int    `json:"votes"`
}

// Finder looks up a solution. A nil Solution with a nil error means none.
type Finder interface {
	FindSolution(ctx context.Context, query string) (*Solution, error)
}

// Config configures StackOverflow.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// StackOverflow scrapes stackoverflow.com search results and answer pages.
type StackOverflow struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ Finder = (*StackOverflow)(nil)

// NewStackOverflow creates a scraper. Requests are paced at one every two seconds.
func NewStackOverflow(cfg Config, logger *zap.Logger) *StackOverflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://stackoverflow.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &StackOverflow{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 2),
		logger:     logger,
	}
}

// FindSolution searches for query, opens the first question and returns
// its accepted answer, or the first answer when none is accepted.
func (s *StackOverflow) FindSolution(ctx context.Context, query string) (*Solution, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	searchURL := s.baseURL + "/search?q=" + url.QueryEscape(query+" solved")
	doc, err := s.fetch(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	first := doc.Find(".s-post-summary").First()
	if first.Length() == 0 {
		s.logger.Debug("no search results", zap.String("query", query))
		return nil, nil
	}
	link := first.Find(".s-post-summary--content-title a").First()
	title := strings.TrimSpace(link.Text())
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return nil, nil
	}

	questionURL, err := s.resolve(href)
	if err != nil {
		return nil, err
	}
	page, err := s.fetch(ctx, questionURL)
	if err != nil {
		return nil, err
	}

	answer := page.Find(".answer.accepted-answer").First()
	if answer.Length() == 0 {
		answer = page.Find(".answer").First()
	}
	if answer.Length() == 0 {
		return nil, nil
	}

	body := strings.TrimSpace(answer.Find(".js-post-body").Text())
	if len(body) > maxSolutionChars {
		body = body[:maxSolutionChars]
	}
	votes, _ := strconv.Atoi(answer.AttrOr("data-score", "0"))

	return &Solution{
		Title:    title,
		Solution: body,
		URL:      questionURL,
		Votes:    votes,
	}, nil
}

func (s *StackOverflow) resolve(href string) (string, error) {
	base, err := url.Parse(s.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid question link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (s *StackOverflow) fetch(ctx context.Context, target string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}
