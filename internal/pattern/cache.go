// Package pattern compiles user supplied regular expressions and keeps the
// most recently used ones.
package pattern

import (
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the capacity of the shared cache.
const DefaultSize = 512

// Cache is a concurrency-safe LRU of compiled expressions. Patterns that fail
// to compile are not cached.
type Cache struct {
	lru *lru.Cache[string, *regexp.Regexp]
}

// NewCache creates a cache holding up to size expressions.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return &Cache{lru: c}
}

// Compile returns the compiled form of expr.
func (c *Cache) Compile(expr string) (*regexp.Regexp, error) {
	if re, ok := c.lru.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	c.lru.Add(expr, re)
	return re, nil
}

// Len returns the number of cached expressions.
func (c *Cache) Len() int { return c.lru.Len() }

var shared = NewCache(DefaultSize)

// Compile compiles expr through the shared cache.
func Compile(expr string) (*regexp.Regexp, error) { return shared.Compile(expr) }
