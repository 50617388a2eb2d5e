package plugin

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/pkg/router"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrArgs        = errors.New("argument error")
	ErrUnknownKind = errors.New("unknown plugin kind")
)

// Plugin represents the operations expected of a source/destination plugin.
type Plugin interface {
	// ID should return a unique identifier for this plugin.
	ID() string
	// Register is called to allow registration of source and destination functions.
	Register(*Registration)
	// Stopping is called after all sources have ended and all destinations are closed, when the routelog process is shutting down.
	Stopping() error
}

// Args are the string arguments given to a source or destination in configuration.
type Args map[string]string

// String returns the named argument, or def if it's missing or empty.
func (a Args) String(key, def string) string {
	if val, ok := a[key]; ok && val != "" {
		return val
	}
	return def
}

// Required returns the named argument, or an ErrArgs error if it's missing or empty.
func (a Args) Required(key string) (string, error) {
	val, ok := a[key]
	if !ok || val == "" {
		return "", fmt.Errorf("%w: '%s' is required", ErrArgs, key)
	}
	return val, nil
}

// Duration parses the named argument with time.ParseDuration.
func (a Args) Duration(key string, def time.Duration) (time.Duration, error) {
	val, ok := a[key]
	if !ok || val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%w: '%s' is not a valid duration: %v", ErrArgs, key, err)
	}
	return d, nil
}

// FileMode parses the named argument as an octal file mode like "644".
func (a Args) FileMode(key string, def os.FileMode) (os.FileMode, error) {
	val, ok := a[key]
	if !ok || val == "" {
		return def, nil
	}
	perms, err := strconv.ParseUint(val, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: '%s' is not a valid octal file mode", ErrArgs, key)
	}
	return os.FileMode(perms), nil
}

// Encoding parses the "format" argument.
func (a Args) Encoding() (event.Encoding, error) {
	enc := event.Encoding(a.String("format", string(event.EncodeLine)))
	if !enc.Valid() {
		return "", fmt.Errorf("%w: format must be '%s' or '%s', got '%s'", ErrArgs, event.EncodeLine, event.EncodeJSON, enc)
	}
	return enc, nil
}

// Fields splits the named argument on whitespace.
func (a Args) Fields(key string) []string {
	return strings.Fields(a[key])
}

// SourceFunc produces an iterator.Iterator of input lines.
// Sources operate asynchronously, and should release their resources when ctx is done or their input ends.
type SourceFunc = func(ctx context.Context, args Args) (iterator.Iterator, error)

// DestinationFunc creates a router.Destination.
type DestinationFunc = func(ctx context.Context, log hclog.Logger, args Args) (router.Destination, error)

// Registration is a collection of SourceFunc and DestinationFunc to be used by other components.
type Registration struct {
	sources   map[string]map[string]SourceFunc
	sourceDoc map[string]map[string]string
	dests     map[string]map[string]DestinationFunc
	destDoc   map[string]map[string]string
}

func NewRegistration() *Registration {
	return &Registration{
		sources:   map[string]map[string]SourceFunc{},
		sourceDoc: map[string]map[string]string{},
		dests:     map[string]map[string]DestinationFunc{},
		destDoc:   map[string]map[string]string{},
	}
}

// ParseKind splits a kind like "file.File" into its qualifier and class.
func ParseKind(kind string) (qualifier, class string, err error) {
	qualifier, class, ok := strings.Cut(kind, ".")
	if !ok || qualifier == "" || class == "" {
		return "", "", fmt.Errorf("%w: '%s' must be in the form QUALIFIER.Class", ErrUnknownKind, kind)
	}
	return qualifier, class, nil
}

func register[T any](model map[string]map[string]T, qualifier, class string, val T) {
	classMap, ok := model[qualifier]
	if !ok {
		classMap = map[string]T{}
		model[qualifier] = classMap
	}
	classMap[class] = val
}

func lookup[T any](model map[string]map[string]T, qualifier, class string) (T, bool) {
	var zero T
	classMap, ok := model[qualifier]
	if !ok {
		return zero, false
	}
	val, ok := classMap[class]
	if !ok {
		return zero, false
	}
	return val, true
}

// RegisterSource is called by Plugin.Register to provide a line source for use in configuration.
func (r *Registration) RegisterSource(qualifier, class string, src SourceFunc) {
	if src == nil {
		panic("source is nil")
	}
	register(r.sources, qualifier, class, src)
}

// DocumentSource is used to document a provided plugin source. It's recommended to provide usage information in this documentation.
func (r *Registration) DocumentSource(qualifier, class, doc string) {
	register(r.sourceDoc, qualifier, class, doc)
}

// Source retrieves a source known to this Registration.
// It returns the SourceFunc if it exists, documentation, and a bool indicating whether the qualifier and class pair matches a known source.
func (r *Registration) Source(qualifier, class string) (SourceFunc, string, bool) {
	src, ok := lookup(r.sources, qualifier, class)
	if !ok {
		return nil, "", false
	}
	return src, getDocs(r.sourceDoc, qualifier, class), true
}

// RegisterDestination is called by Plugin.Register to provide a destination kind for use in configuration.
func (r *Registration) RegisterDestination(qualifier, class string, dest DestinationFunc) {
	if dest == nil {
		panic("destination is nil")
	}
	register(r.dests, qualifier, class, dest)
}

// DocumentDestination is used to document a provided plugin destination. It's recommended to provide usage information in this documentation.
func (r *Registration) DocumentDestination(qualifier, class, doc string) {
	register(r.destDoc, qualifier, class, doc)
}

// Destination retrieves a destination known to this Registration.
// It returns the DestinationFunc if it exists, documentation, and a bool indicating whether the qualifier and class pair matches a known destination.
func (r *Registration) Destination(qualifier, class string) (DestinationFunc, string, bool) {
	dest, ok := lookup(r.dests, qualifier, class)
	if !ok {
		return nil, "", false
	}
	return dest, getDocs(r.destDoc, qualifier, class), true
}

func (r *Registration) sourceKind(kind string) (SourceFunc, error) {
	qualifier, class, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}
	src, _, ok := r.Source(qualifier, class)
	if !ok {
		return nil, fmt.Errorf("%w: no source '%s'", ErrUnknownKind, kind)
	}
	return src, nil
}

func (r *Registration) destinationKind(kind string) (DestinationFunc, error) {
	qualifier, class, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}
	dest, _, ok := r.Destination(qualifier, class)
	if !ok {
		return nil, fmt.Errorf("%w: no destination '%s'", ErrUnknownKind, kind)
	}
	return dest, nil
}

// CheckSource returns an error wrapping ErrUnknownKind if no source is registered for kind.
func (r *Registration) CheckSource(kind string) error {
	_, err := r.sourceKind(kind)
	return err
}

// CheckDestination returns an error wrapping ErrUnknownKind if no destination is registered for kind.
func (r *Registration) CheckDestination(kind string) error {
	_, err := r.destinationKind(kind)
	return err
}

// OpenSource resolves kind and calls its SourceFunc.
func (r *Registration) OpenSource(ctx context.Context, kind string, args Args) (iterator.Iterator, error) {
	src, err := r.sourceKind(kind)
	if err != nil {
		return nil, err
	}
	iter, err := src(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("opening source '%s': %w", kind, err)
	}
	return iter, nil
}

// OpenDestination resolves kind and calls its DestinationFunc.
func (r *Registration) OpenDestination(ctx context.Context, log hclog.Logger, kind string, args Args) (router.Destination, error) {
	dest, err := r.destinationKind(kind)
	if err != nil {
		return nil, err
	}
	d, err := dest(ctx, log, args)
	if err != nil {
		return nil, fmt.Errorf("opening destination '%s': %w", kind, err)
	}
	return d, nil
}

// AllDocs will return a string containing all the documentation for all loaded plugins.
// The listing will include sources, then destinations, in alphabetical order by qualifier and class.
func (r *Registration) AllDocs() string {
	var buf strings.Builder
	buf.WriteString("Sources:\n")
	populateDocs(&buf, r.sources, r.sourceDoc)
	buf.WriteString("Destinations:\n")
	populateDocs(&buf, r.dests, r.destDoc)
	return buf.String()
}

func getDocs(docs map[string]map[string]string, qualifier, class string) string {
	doc, ok := lookup(docs, qualifier, class)
	if !ok {
		return fmt.Sprintf("%s.%s", qualifier, class)
	}
	return doc
}

const (
	indent = "  "
)

func indentString(s string) string {
	s = strings.TrimSuffix(strings.ReplaceAll(indent+s, "\n", "\n"+indent), indent)
	return strings.ReplaceAll(s, "\n"+indent+"\n", "\n\n")
}

func populateDocs[T any](buf *strings.Builder, model map[string]map[string]T, docs map[string]map[string]string) {
	var (
		_buf       strings.Builder
		qualifiers []string
		qualMap    = map[string][]string{}
	)
	for qual, classMap := range model {
		qualifiers = append(qualifiers, qual)
		var classes []string
		for class := range classMap {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		qualMap[qual] = classes
	}
	if len(qualifiers) == 0 {
		_buf.WriteString("None\n")
	} else {
		sort.Strings(qualifiers)
		for _, qual := range qualifiers {
			for _, class := range qualMap[qual] {
				doc := getDocs(docs, qual, class)
				if !strings.HasSuffix(doc, "\n") {
					doc += "\n"
				}
				_buf.WriteString(doc)
				_buf.WriteString("\n")
			}
		}
	}
	buf.WriteString(indentString(_buf.String()))
}
