package demo

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RefreshInterval is how old a feed's publish date must be before a request
// appends a new item.
const RefreshInterval = 60 * time.Second

var authors = []string{
	"Arthur Dent",
	"Ford Prefect",
	"Zaphod Beeblebrox",
	"Tricia 'Trillian' McMillan",
	"Marvin",
}

var categories = []string{
	"Hitchhiking",
	"Space Invaders",
	"Solar System",
	"Betelgeuse",
	"The Ultimate Answer",
}

const text = `
The book begins with council workmen arriving at Arthur Dent's house.
They wish to demolish his house in order to build a bypass.
Arthur's best friend, Ford Prefect, arrives, warning him of the end of the world.
Ford is revealed to be an alien who had come to Earth to research it for the titular Hitchhiker's Guide to the Galaxy,
an enormous work providing information about every planet and place in the universe.
The two head to a pub, where the locals question Ford's knowledge of the Apocalypse. An alien race, known as Vogons,
show up to demolish Earth in order to build a bypass for an intergalactic highway. Arthur and Ford manage to get onto
the Vogon ship just before Earth is demolished, where they are forced to listen to horrible Vogon poetry as a form of
torture. Arthur and Ford are then placed into the airlock and jettisoned into space, only to be rescued by
Zaphod Beeblebrox's ship, the Heart of Gold. Zaphod, a semi-cousin of Ford, is the President of the Galaxy,
and is accompanied by a depressed robot named Marvin and a human woman by the name of Trillian.
The five embark on a journey to find the legendary planet known as Magrathea, known for selling luxury planets.
There, they learn that a supercomputer named Deep Thought determined the ultimate answer to life, the universe,
and everything to be the number 42.`

var words = strings.Fields(text)

type Item struct {
	Title       string
	Description string
	GUID        string
	Author      string
	Categories  []string
	Published   time.Time
}

type Feed struct {
	Number    string
	Published time.Time
	Items     []Item
}

// Generator serves synthetic RSS feeds that grow over time. Feeds are kept
// for the life of the process.
type Generator struct {
	mu    sync.Mutex
	feeds map[string]*Feed
	rnd   *rand.Rand
	title cases.Caser
	now   func() time.Time
}

func NewGenerator() *Generator {
	seed := uint64(time.Now().UnixNano())
	return &Generator{
		feeds: make(map[string]*Feed),
		rnd:   rand.New(rand.NewPCG(seed, seed>>1)),
		title: cases.Title(language.English),
		now:   time.Now,
	}
}

// Run returns the RSS document for the given feed number, creating the feed
// on first use and appending an item once RefreshInterval has passed.
func (g *Generator) Run(number, selfURL string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	feed, ok := g.feeds[number]
	if !ok {
		feed = &Feed{Number: number, Published: now}
		for range 1 + g.rnd.IntN(5) {
			feed.Items = append(feed.Items, g.newItem(now, selfURL))
		}
		g.feeds[number] = feed
	} else if now.Sub(feed.Published) > RefreshInterval {
		feed.Items = append(feed.Items, g.newItem(now, selfURL))
		feed.Published = now
	}

	return g.render(feed)
}

func (g *Generator) newItem(now time.Time, selfURL string) Item {
	title := g.title.String(strings.Join(g.sample(words, 2+g.rnd.IntN(4)), " "))

	return Item{
		Title:       title,
		Description: strings.Join(g.sample(words, 10+g.rnd.IntN(41)), " "),
		GUID:        selfURL + "#" + url.PathEscape(strings.ToLower(title)),
		Author:      authors[g.rnd.IntN(len(authors))],
		Categories:  g.sample(categories, g.rnd.IntN(4)),
		Published:   now.Add(-time.Duration(g.rnd.IntN(86400*30)) * time.Second),
	}
}

func (g *Generator) sample(from []string, n int) []string {
	out := make([]string, 0, n)
	for _, i := range g.rnd.Perm(len(from))[:min(n, len(from))] {
		out = append(out, from[i])
	}
	return out
}

func (g *Generator) render(feed *Feed) string {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n<rss version=\"2.0\">\n  <channel>\n")

	g.writeElement(&buf, "title", fmt.Sprintf("Feed #%s", feed.Number), 4)
	g.writeElement(&buf, "pubDate", feed.Published.Format(time.RFC1123Z), 4)

	for _, item := range feed.Items {
		g.writeItem(&buf, item)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String()
}

func (g *Generator) writeItem(buf *bytes.Buffer, item Item) {
	buf.WriteString("    <item>\n")

	g.writeElement(buf, "title", item.Title, 6)
	g.writeElement(buf, "description", item.Description, 6)
	g.writeElement(buf, "pubDate", item.Published.Format(time.RFC1123Z), 6)
	g.writeElement(buf, "guid", item.GUID, 6)
	g.writeElement(buf, "author", item.Author, 6)

	for _, category := range item.Categories {
		g.writeElement(buf, "category", category, 6)
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
