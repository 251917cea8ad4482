package criterion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/c360/semtwin/pkg/cache"
)

const (
	maxPatternLength = 500
	maxPatternGroups = 20
	maxPatternDepth  = 5
	maxRepeatCount   = 1000
)

var repeatCount = regexp.MustCompile(`\{(\d+)`)

// PatternCache compiles and caches regular expressions
type PatternCache struct {
	cache cache.Cache[*regexp.Regexp]
}

// NewPatternCache creates a cache holding at most size compiled patterns
func NewPatternCache(size int, opts ...cache.Option[*regexp.Regexp]) (*PatternCache, error) {
	c, err := cache.NewLRU[*regexp.Regexp](size, opts...)
	if err != nil {
		return nil, err
	}
	return &PatternCache{cache: c}, nil
}

// Compile returns the cached expression for pattern, compiling it on a miss
func (pc *PatternCache) Compile(pattern string) (*regexp.Regexp, error) {
	return cache.GetOrCompute(pc.cache, pattern, func() (*regexp.Regexp, error) {
		if err := checkPatternComplexity(pattern); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
		}
		return re, nil
	})
}

// Stats returns the cache statistics
func (pc *PatternCache) Stats() *cache.Statistics {
	return pc.cache.Stats()
}

// Size returns the number of cached patterns
func (pc *PatternCache) Size() int {
	return pc.cache.Size()
}

var patterns atomic.Pointer[PatternCache]

func init() {
	pc, err := NewPatternCache(256)
	if err != nil {
		panic(fmt.Sprintf("criterion: pattern cache: %v", err))
	}
	patterns.Store(pc)
}

// SetPatternCache replaces the cache used by every pattern compiled
// afterwards. Criteria built earlier keep their compiled expressions.
func SetPatternCache(pc *PatternCache) {
	if pc != nil {
		patterns.Store(pc)
	}
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return patterns.Load().Compile(pattern)
}

// checkPatternComplexity bounds the size of user supplied patterns. RE2 runs
// in linear time so only the compile cost needs limiting.
func checkPatternComplexity(pattern string) error {
	if len(pattern) > maxPatternLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidPattern, maxPatternLength)
	}
	if strings.Count(pattern, "(") > maxPatternGroups {
		return fmt.Errorf("%w: more than %d groups", ErrInvalidPattern, maxPatternGroups)
	}
	depth, maxDepth := 0, 0
	escaped := false
	for _, ch := range pattern {
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '(':
			depth++
			maxDepth = max(maxDepth, depth)
		case ch == ')':
			depth--
		}
	}
	if maxDepth > maxPatternDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrInvalidPattern, maxPatternDepth)
	}
	for _, m := range repeatCount.FindAllStringSubmatch(pattern, -1) {
		if n, err := strconv.Atoi(m[1]); err != nil || n >= maxRepeatCount {
			return fmt.Errorf("%w: repetition count of %d or more", ErrInvalidPattern, maxRepeatCount)
		}
	}
	return nil
}

// globToRegexp turns a glob into an anchored expression. "*" matches any
// run of characters and "?" exactly one.
func globToRegexp(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
