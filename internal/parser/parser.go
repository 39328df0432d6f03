// Package parser extracts person records and advisor edges from record pages.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

var (
	idLinkPattern   = regexp.MustCompile(`id=(\d+)`)
	advisorPattern  = regexp.MustCompile(`Advisor( \d*)?:`)
	degreePattern   = regexp.MustCompile(`Ph\.D\.`)
	subjectPattern  = regexp.MustCompile(`Mathematics Subject Classification:`)
	yearTokenSuffix = regexp.MustCompile(`^\d{4}$`)
)

// Parser implements genealogy.Parser for Mathematics Genealogy Project pages.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse reads one record page. Fields that cannot be found are left nil; a
// page without the main content block or a name is a parse failure.
func (p *Parser) Parse(id int, body []byte) (genealogy.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return genealogy.Record{}, fmt.Errorf("%w: id %d: %v", genealogy.ErrParse, id, err)
	}
	main := doc.Find("#mainContent").First()
	if main.Length() == 0 {
		return genealogy.Record{}, fmt.Errorf("%w: id %d: no main content", genealogy.ErrParse, id)
	}

	node := genealogy.Node{
		ID:      id,
		Name:    clean(main.Find("h2").First().Text()),
		Country: flagCountry(main),
		Subject: subject(main),
	}
	if node.Name == nil {
		return genealogy.Record{}, fmt.Errorf("%w: id %d: no name", genealogy.ErrParse, id)
	}
	node.School, node.Year = degree(main)

	var edges []genealogy.Edge
	seen := make(map[genealogy.EdgeKey]struct{})
	add := func(e genealogy.Edge) {
		if _, ok := seen[e.Key()]; ok {
			return
		}
		seen[e.Key()] = struct{}{}
		edges = append(edges, e)
	}
	for _, advisor := range advisors(main) {
		add(genealogy.Edge{AdvisorID: advisor, StudentID: id})
	}
	for _, student := range students(main) {
		add(genealogy.Edge{AdvisorID: id, StudentID: student})
	}

	return genealogy.Record{Node: node, Edges: edges}, nil
}

// clean collapses whitespace and maps empty text to nil.
func clean(text string) *string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	return &text
}

func linkID(href string) (int, bool) {
	m := idLinkPattern.FindStringSubmatch(href)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// ownTextMatch returns the first element under root with a direct text child
// matching re, along with that text.
func ownTextMatch(root *goquery.Selection, re *regexp.Regexp) (*goquery.Selection, string) {
	var (
		found *goquery.Selection
		text  string
	)
	root.Find("*").AddBack().EachWithBreak(func(_ int, el *goquery.Selection) bool {
		el.Contents().EachWithBreak(func(_ int, child *goquery.Selection) bool {
			if goquery.NodeName(child) != "#text" {
				return true
			}
			if t := child.Text(); re.MatchString(t) {
				found, text = el, t
				return false
			}
			return true
		})
		return found == nil
	})
	return found, text
}

func flagCountry(main *goquery.Selection) *string {
	title, ok := main.Find(`img[src*="flag"]`).First().Attr("title")
	if !ok {
		return nil
	}
	return clean(title)
}

func subject(main *goquery.Selection) *string {
	_, text := ownTextMatch(main, subjectPattern)
	if text == "" {
		return nil
	}
	_, after, ok := strings.Cut(text, ": ")
	if !ok {
		_, after, _ = strings.Cut(text, ":")
	}
	return clean(after)
}

// degree reads the "Ph.D. <school> <year>" line.
func degree(main *goquery.Selection) (*string, *int) {
	el, _ := ownTextMatch(main, degreePattern)
	if el == nil {
		return nil, nil
	}
	fields := strings.Fields(el.Text())
	if len(fields) > 0 && degreePattern.MatchString(fields[0]) {
		fields = fields[1:]
	}
	var year *int
	if n := len(fields); n > 0 && yearTokenSuffix.MatchString(fields[n-1]) {
		if y, err := strconv.Atoi(fields[n-1]); err == nil {
			year = &y
			fields = fields[:n-1]
		}
	}
	return clean(strings.Join(fields, " ")), year
}

func advisors(main *goquery.Selection) []int {
	container, _ := ownTextMatch(main, advisorPattern)
	if container == nil {
		return nil
	}
	var ids []int
	container.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if id, ok := linkID(href); ok {
			ids = append(ids, id)
		}
	})
	return ids
}

func students(main *goquery.Selection) []int {
	var ids []int
	main.Find("table").First().Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		href, ok := tr.Find("td").First().Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		if id, ok := linkID(href); ok {
			ids = append(ids, id)
		}
	})
	return ids
}
