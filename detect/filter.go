package detect

import (
	"sort"
	"strconv"
	"strings"

	"logwarden/core"
	"logwarden/metrics"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Filter is the compiled WHERE clause of a rule.
type Filter struct {
	RuleID   int64
	Where    string
	Args     []any
	Rejected []error // conditions dropped from the clause
}

// CompileRule builds the rule's filter from its conditions in order. Rejected
// conditions are dropped and reported in Filter.Rejected. ok is false when no
// condition survives, in which case the rule matches nothing.
func CompileRule(rule core.Rule) (f Filter, ok bool) {
	conds := make([]core.Condition, len(rule.Conditions))
	copy(conds, rule.Conditions)
	sort.SliceStable(conds, func(i, j int) bool { return conds[i].Order < conds[j].Order })

	f.RuleID = rule.ID
	var fragments []string
	for _, c := range conds {
		p, err := BuildPredicate(c)
		if err != nil {
			f.Rejected = append(f.Rejected, err)
			continue
		}
		fragments = append(fragments, "("+p.SQL+")")
		f.Args = append(f.Args, p.Args...)
	}
	if len(fragments) == 0 {
		return f, false
	}

	joiner := " AND "
	if rule.MatchType == core.MatchAny {
		joiner = " OR "
	}
	f.Where = strings.Join(fragments, joiner)
	return f, true
}

// Fingerprint hashes everything that affects a rule's compiled filter.
func Fingerprint(rule core.Rule) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatInt(rule.ID, 10))
	_, _ = d.WriteString("\x00" + string(rule.MatchType))
	for _, c := range rule.Conditions {
		_, _ = d.WriteString("\x00" + string(c.Field) + "\x1f" + string(c.Operator) + "\x1f" + c.Value + "\x1f" + strconv.Itoa(c.Order))
	}
	return d.Sum64()
}

type compiled struct {
	filter Filter
	ok     bool
}

// FilterCache keeps compiled filters keyed by rule fingerprint. Editing a
// rule changes its fingerprint, so a stale filter is never returned.
type FilterCache struct {
	cache *lru.Cache[uint64, compiled]
}

// NewFilterCache creates a cache holding up to size filters.
func NewFilterCache(size int) (*FilterCache, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[uint64, compiled](size)
	if err != nil {
		return nil, err
	}
	return &FilterCache{cache: c}, nil
}

// Compile returns the cached filter for rule, compiling it on a miss.
func (fc *FilterCache) Compile(rule core.Rule) (Filter, bool) {
	key := Fingerprint(rule)
	if entry, hit := fc.cache.Get(key); hit {
		metrics.FilterCacheLookups.WithLabelValues("hit").Inc()
		return entry.filter, entry.ok
	}
	metrics.FilterCacheLookups.WithLabelValues("miss").Inc()

	f, ok := CompileRule(rule)
	fc.cache.Add(key, compiled{filter: f, ok: ok})
	return f, ok
}

// Invalidate evicts every cached filter of ruleID.
func (fc *FilterCache) Invalidate(ruleID int64) {
	for _, key := range fc.cache.Keys() {
		if entry, ok := fc.cache.Peek(key); ok && entry.filter.RuleID == ruleID {
			fc.cache.Remove(key)
		}
	}
}

// Len returns the number of cached filters.
func (fc *FilterCache) Len() int {
	return fc.cache.Len()
}
