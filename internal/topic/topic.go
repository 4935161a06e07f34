// Package topic implements MQTT topic-filter validation and matching:
// literal filters, single-level `+` wildcards and multi-level `#`
// wildcards, classified once at subscribe time and matched level by level
// against inbound publish topics.
package topic

import (
	"bytes"
	"errors"
)

// Kind classifies a subscription filter, decided once when the filter is
// accepted at SUBSCRIBE time.
type Kind uint8

const (
	Literal Kind = iota
	WildcardPlus
	WildcardHash
)

// ErrInvalidFilter is returned by Classify when a filter violates the
// syntactic rules for `+`/`#` placement or contains an empty level.
var ErrInvalidFilter = errors.New("topic: invalid filter")

// Classify validates filter and reports its Kind. A filter is rejected
// if: it is empty, any level is empty, `#` appears anywhere but as a
// trailing standalone level, or a `+` shares a level with other bytes.
func Classify(filter []byte) (Kind, error) {
	if len(filter) == 0 {
		return 0, ErrInvalidFilter
	}

	levels := bytes.Split(filter, []byte("/"))
	kind := Literal

	for i, level := range levels {
		if len(level) == 0 {
			return 0, ErrInvalidFilter
		}

		hasHash := bytes.IndexByte(level, '#') >= 0
		hasPlus := bytes.IndexByte(level, '+') >= 0

		if hasHash {
			if len(level) != 1 || i != len(levels)-1 {
				return 0, ErrInvalidFilter
			}
			kind = WildcardHash
			continue
		}

		if hasPlus {
			if len(level) != 1 {
				return 0, ErrInvalidFilter
			}
			if kind == Literal {
				kind = WildcardPlus
			}
			continue
		}
	}

	return kind, nil
}

// Match reports whether topic satisfies filter. filter must already have
// passed Classify; Match re-derives level structure rather than trusting a
// cached Kind, so it is safe to call directly in tests.
func Match(filter, topic []byte) bool {
	filterLevels := bytes.Split(filter, []byte("/"))
	topicLevels := bytes.Split(topic, []byte("/"))

	return matchLevels(filterLevels, topicLevels)
}

func matchLevels(filterLevels, topicLevels [][]byte) bool {
	for i, fl := range filterLevels {
		if len(fl) == 1 && fl[0] == '#' {
			// `#` must be the last filter level (enforced by Classify);
			// it matches everything from here on, including zero
			// remaining topic levels.
			return true
		}

		if i >= len(topicLevels) {
			return false
		}

		if len(fl) == 1 && fl[0] == '+' {
			continue
		}

		if !bytes.Equal(fl, topicLevels[i]) {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
