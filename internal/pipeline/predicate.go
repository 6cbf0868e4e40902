package pipeline

import "strings"

// Predicate decides whether a Fork handles a request. It is evaluated once
// per request and never cached.
type Predicate func(req *Request) bool

// PathPrefix matches requests whose path begins with the segments of
// prefix. It panics if prefix is invalid; use WhenPath to get an error.
func PathPrefix(prefix string) Predicate {
	segments, err := parsePrefix(prefix)
	if err != nil {
		panic(err)
	}
	return segmentPrefix(segments)
}

func segmentPrefix(segments []string) Predicate {
	return func(req *Request) bool {
		return hasSegmentPrefix(pathSegments(req.Path), segments)
	}
}

// Method matches requests with any of the given methods (case-insensitive).
func Method(methods ...string) Predicate {
	return func(req *Request) bool {
		for _, m := range methods {
			if strings.EqualFold(req.Method, m) {
				return true
			}
		}
		return false
	}
}

// HeaderEquals matches requests where every value of the named header
// equals value. Requests without the header do not match.
func HeaderEquals(name, value string) Predicate {
	return func(req *Request) bool {
		values := req.Header.Values(name)
		if len(values) == 0 {
			return false
		}
		for _, v := range values {
			if v != value {
				return false
			}
		}
		return true
	}
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(req *Request) bool {
		return !p(req)
	}
}

// All matches when every predicate matches. All() matches everything.
func All(preds ...Predicate) Predicate {
	return func(req *Request) bool {
		for _, p := range preds {
			if !p(req) {
				return false
			}
		}
		return true
	}
}

// Any matches when at least one predicate matches. Any() matches nothing.
func Any(preds ...Predicate) Predicate {
	return func(req *Request) bool {
		for _, p := range preds {
			if p(req) {
				return true
			}
		}
		return false
	}
}
