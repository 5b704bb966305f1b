// Package classify assigns every intercepted GET request to one request class.
package classify

import (
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
)

// Class is the kind of an intercepted request. Values match the keys of the
// strategies table in the configuration.
type Class string

const (
	StaticAsset Class = config.ClassStatic
	API         Class = config.ClassAPI
	Image       Class = config.ClassImage
	Navigation  Class = config.ClassNavigation
	Other       Class = config.ClassOther
)

// Classes lists every class in precedence order
var Classes = []Class{StaticAsset, API, Image, Navigation, Other}

// Rule matches requests belonging to one class
type Rule interface {
	Class() Class
	Match(r *http.Request) bool
}

type ruleFunc struct {
	class Class
	match func(r *http.Request) bool
}

func (f ruleFunc) Class() Class               { return f.class }
func (f ruleFunc) Match(r *http.Request) bool { return f.match(r) }

// Classifier evaluates its rules in order; the first match wins
type Classifier struct {
	rules []Rule
}

// New compiles the classification tables of cfg
func New(cfg config.ClassifierConfig) (*Classifier, error) {
	manifest := toSet(cfg.StaticAssets, false)
	staticExts := toSet(cfg.StaticExtensions, true)
	imageExts := toSet(cfg.ImageExtensions, true)
	imageHosts := toSet(cfg.ImageHosts, true)

	apiPatterns := make([]*regexp.Regexp, 0, len(cfg.APIPatterns))
	for i, p := range cfg.APIPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("api pattern %d: %w", i, err)
		}
		apiPatterns = append(apiPatterns, re)
	}

	return &Classifier{
		rules: []Rule{
			ruleFunc{StaticAsset, func(r *http.Request) bool {
				_, listed := manifest[r.URL.Path]
				_, ext := staticExts[extension(r.URL.Path)]
				return listed || ext
			}},
			ruleFunc{API, func(r *http.Request) bool {
				for _, re := range apiPatterns {
					if re.MatchString(r.URL.Path) {
						return true
					}
				}
				return false
			}},
			ruleFunc{Image, func(r *http.Request) bool {
				_, ext := imageExts[extension(r.URL.Path)]
				_, host := imageHosts[strings.ToLower(hostname(r))]
				return ext || host
			}},
			ruleFunc{Navigation, func(r *http.Request) bool {
				if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
					return true
				}
				return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
			}},
		},
	}, nil
}

// Classify returns the class of r. Unmatched requests are Other.
func (c *Classifier) Classify(r *http.Request) Class {
	for _, rule := range c.rules {
		if rule.Match(r) {
			return rule.Class()
		}
	}
	return Other
}

func extension(p string) string {
	ext := path.Ext(p)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

func hostname(r *http.Request) string {
	if h := r.URL.Hostname(); h != "" {
		return h
	}
	host := r.Host
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return host
}

func toSet(values []string, lower bool) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(strings.TrimPrefix(v, "."))
		}
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
