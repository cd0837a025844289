// Package variants enumerates the <source> descriptors a responsive image needs.
//
// An adaptive rule set lists media conditions, each paired with an optional
// filename marker. For a base image and a list of requested output formats,
// Enumerate produces the ordered descriptors that downstream markup renders
// inside a <picture> element. The plain <img> fallback is described by
// Fallback and is never repeated as a <source>.
package variants

import (
	"path"
	"strings"

	"github.com/FocuswithJustin/imagepipe/core/errors"
	"github.com/FocuswithJustin/imagepipe/core/formats"
)

// Variant is one responsive display condition.
type Variant struct {
	// Media is the raw media condition, without surrounding parentheses.
	Media string `json:"media" yaml:"media"`

	// Modifier is the filename marker for this variant. Nil means the base
	// file is used unchanged.
	Modifier *string `json:"modifier" yaml:"modifier"`
}

// RuleSet is the adaptive configuration for one image.
type RuleSet struct {
	// BaseModifier is the marker the base filename already carries for its
	// default state. Empty means none.
	BaseModifier string `json:"baseModifier,omitempty" yaml:"baseModifier,omitempty"`

	// Variants are emitted in declaration order.
	Variants []Variant `json:"variants" yaml:"variants"`
}

// SourceDescriptor describes one emitted <source> (or the <img> fallback).
type SourceDescriptor struct {
	// Media is "(condition)", or empty for the implicit default entry.
	Media  string `json:"media,omitempty"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// Modifier returns a pointer to m, for building variants in code.
func Modifier(m string) *string {
	return &m
}

// IsDefaultVariant reports whether v resolves to the same file as the
// base image: its modifier is nil or byte-equal to the rule set's base
// modifier. Default variants never emit a trailing original-format source.
func IsDefaultVariant(rules *RuleSet, v Variant) bool {
	if v.Modifier == nil {
		return true
	}
	return rules != nil && rules.BaseModifier != "" && *v.Modifier == rules.BaseModifier
}

// implicitDefault stands in for a missing or empty rule set.
var implicitDefault = Variant{}

// Enumerate returns the source descriptors for basePath.
//
// For each variant in declaration order, requested formats are emitted in
// reverse order, followed by the variant's own original-format file unless
// the variant is a default one. With no rules (or no variants) a single
// implicit default variant without media is used.
func Enumerate(basePath string, requested []formats.Format, rules *RuleSet) ([]SourceDescriptor, error) {
	if _, err := extension(basePath); err != nil {
		return nil, err
	}

	list := []Variant{implicitDefault}
	if rules != nil && len(rules.Variants) > 0 {
		list = rules.Variants
	}

	out := make([]SourceDescriptor, 0, len(list)*(len(requested)+1))
	for _, v := range list {
		descriptors, err := enumerateVariant(basePath, requested, rules, v)
		if err != nil {
			return nil, err
		}
		out = append(out, descriptors...)
	}
	return out, nil
}

func enumerateVariant(basePath string, requested []formats.Format, rules *RuleSet, v Variant) ([]SourceDescriptor, error) {
	rewritten, err := RewritePath(basePath, rules, v)
	if err != nil {
		return nil, err
	}
	ext, err := extension(rewritten)
	if err != nil {
		return nil, err
	}

	media := ""
	if v.Media != "" {
		media = "(" + v.Media + ")"
	}

	out := make([]SourceDescriptor, 0, len(requested)+1)
	for i := len(requested) - 1; i >= 0; i-- {
		spec, err := requested[i].Resolve(ext)
		if err != nil {
			return nil, err
		}
		out = append(out, SourceDescriptor{
			Media:  media,
			Source: swapExtension(rewritten, ext, spec.Extension),
			Type:   spec.MIME,
		})
	}

	if !IsDefaultVariant(rules, v) {
		mime, err := formats.MIMEForExtension(ext)
		if err != nil {
			return nil, err
		}
		out = append(out, SourceDescriptor{Media: media, Source: rewritten, Type: mime})
	}
	return out, nil
}

// RewritePath returns the file path a variant refers to.
//
//   - nil modifier: basePath unchanged.
//   - base modifier present in basePath: its first occurrence is replaced.
//   - otherwise: the modifier is inserted right before the extension.
func RewritePath(basePath string, rules *RuleSet, v Variant) (string, error) {
	ext, err := extension(basePath)
	if err != nil {
		return "", err
	}
	if v.Modifier == nil {
		return basePath, nil
	}
	if rules != nil && rules.BaseModifier != "" && strings.Contains(basePath, rules.BaseModifier) {
		return strings.Replace(basePath, rules.BaseModifier, *v.Modifier, 1), nil
	}
	return strings.TrimSuffix(basePath, "."+ext) + *v.Modifier + "." + ext, nil
}

// Fallback describes the plain <img> source for basePath.
func Fallback(basePath string) (SourceDescriptor, error) {
	ext, err := extension(basePath)
	if err != nil {
		return SourceDescriptor{}, err
	}
	mime, err := formats.MIMEForExtension(ext)
	if err != nil {
		return SourceDescriptor{}, err
	}
	return SourceDescriptor{Source: basePath, Type: mime}, nil
}

// DerivedFiles lists every distinct file referenced by the fallback and the
// sources, in first-seen order.
func DerivedFiles(fallback SourceDescriptor, sources []SourceDescriptor) []string {
	seen := make(map[string]struct{}, len(sources)+1)
	out := make([]string, 0, len(sources)+1)
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	add(fallback.Source)
	for _, s := range sources {
		add(s.Source)
	}
	return out
}

// extension returns the extension of p without the dot.
func extension(p string) (string, error) {
	ext := path.Ext(p)
	if ext == "" || ext == "." {
		return "", &errors.ValidationError{
			Field:   "path",
			Value:   p,
			Message: "image path " + p + " has no file extension",
		}
	}
	return ext[1:], nil
}

func swapExtension(p, from, to string) string {
	return strings.TrimSuffix(p, "."+from) + "." + to
}
