package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/eidaws/federator-go/internal/routing"
	"github.com/eidaws/federator-go/internal/sncl"
)

const (
	stationXMLSource = "EIDA"
	stationXMLHeader = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.0">` +
		`<Source>%s</Source><Created>%s</Created>`
	stationXMLFooter = `</FDSNStationXML>`
)

// StationXMLHeader renders the document preamble written once per
// request, ahead of every merged Network element (spec §4.4.3).
func StationXMLHeader(now time.Time) []byte {
	return []byte(fmt.Sprintf(stationXMLHeader, stationXMLSource, now.UTC().Format(time.RFC3339)))
}

// StationXMLFooter closes the document opened by StationXMLHeader.
func StationXMLFooter() []byte {
	return []byte(stationXMLFooter)
}

// xmlNode is a generic, order-preserving XML element tree, parsed with
// encoding/xml's pull (Token-based) API so one response is held in
// memory at a time rather than a DOM for the whole merged document
// (spec §9 "a pull/event parser is acceptable and preferred for
// memory").
type xmlNode struct {
	Name    xml.Name
	Attr    []xml.Attr
	Content []xmlContent
}

type xmlContent struct {
	Text []byte
	Elem *xmlNode
}

func parseXML(r io.Reader) (*xmlNode, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return parseElement(dec, start)
		}
	}
}

func parseElement(dec *xml.Decoder, start xml.StartElement) (*xmlNode, error) {
	node := &xmlNode{Name: start.Name, Attr: append([]xml.Attr(nil), start.Attr...)}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, t)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, xmlContent{Elem: child})
		case xml.CharData:
			node.Content = append(node.Content, xmlContent{Text: append([]byte(nil), t...)})
		case xml.EndElement:
			return node, nil
		}
	}
}

func (n *xmlNode) children(local string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.Content {
		if c.Elem != nil && c.Elem.Name.Local == local {
			out = append(out, c.Elem)
		}
	}
	return out
}

// removeChildren detaches every direct child element named local and
// returns them in document order, mirroring lxml's
// element.getparent().remove(...) calls in the original worker's
// deserialize step.
func (n *xmlNode) removeChildren(local string) []*xmlNode {
	var removed []*xmlNode
	kept := n.Content[:0]
	for _, c := range n.Content {
		if c.Elem != nil && c.Elem.Name.Local == local {
			removed = append(removed, c.Elem)
			continue
		}
		kept = append(kept, c)
	}
	n.Content = kept
	return removed
}

func (n *xmlNode) appendChild(child *xmlNode) {
	n.Content = append(n.Content, xmlContent{Elem: child})
}

func (n *xmlNode) writeTo(buf *bytes.Buffer) {
	buf.WriteByte('<')
	buf.WriteString(n.Name.Local)
	for _, a := range n.Attr {
		buf.WriteByte(' ')
		if a.Name.Space != "" {
			buf.WriteString(a.Name.Space)
			buf.WriteByte(':')
		}
		buf.WriteString(a.Name.Local)
		buf.WriteString(`="`)
		_ = xml.EscapeText(buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	buf.WriteByte('>')
	for _, c := range n.Content {
		if c.Elem != nil {
			c.Elem.writeTo(buf)
		} else {
			_ = xml.EscapeText(buf, c.Text)
		}
	}
	buf.WriteString("</")
	buf.WriteString(n.Name.Local)
	buf.WriteByte('>')
}

// attrFingerprint hashes an element's sorted attribute set, the same
// identity the original worker computes with
// hashlib.md5(str(sorted(element.attrib.items()))) to decide whether
// two Network/Station elements from different upstream responses
// describe the same epoch.
func attrFingerprint(attrs []xml.Attr) string {
	sorted := append([]xml.Attr(nil), attrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name.Local < sorted[j].Name.Local })
	h := md5.New()
	for _, a := range sorted {
		fmt.Fprintf(h, "%s=%s;", a.Name.Local, a.Value)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type stationEntry struct {
	node     *xmlNode
	channels []*xmlNode
}

type networkEntry struct {
	node          *xmlNode
	stations      map[string]*stationEntry
	stationsOrder []string
}

// stationXMLMerger accumulates Network elements across every response
// fetched for one job (spec §4.4.3's per-network tree merge). A
// merger is scoped to a single RunJob call, not shared across jobs: the
// original worker's self._network_elements instead persists across every
// job a long-lived worker instance ever processes, which would
// re-serialize already-emitted networks on a later job. Since a job
// here already groups every route for one network (routing.GroupByNetwork),
// per-job scoping loses nothing and avoids that duplication.
type stationXMLMerger struct {
	level    string
	networks map[string]*networkEntry
	order    []string
}

func newStationXMLMerger(level string) *stationXMLMerger {
	if level == "" {
		level = "station"
	}
	return &stationXMLMerger{level: level, networks: map[string]*networkEntry{}}
}

func (m *stationXMLMerger) mergeDocument(root *xmlNode) {
	for _, net := range root.children("Network") {
		m.mergeNetwork(net)
	}
}

func (m *stationXMLMerger) mergeNetwork(net *xmlNode) {
	if m.level == "network" {
		m.emerge(net)
		return
	}

	entry := m.emerge(net)
	for _, sta := range net.removeChildren("Station") {
		channels := sta.removeChildren("Channel")
		key := attrFingerprint(sta.Attr)

		existing, known := entry.stations[key]
		switch {
		case !known:
			entry.stations[key] = &stationEntry{node: sta, channels: channels}
			entry.stationsOrder = append(entry.stationsOrder, key)
		case m.level == "station":
			// Unknown stations only; an already-seen station is left
			// untouched (original "append if unknown" rule).
		default:
			// level == "channel" or "response": channels are always
			// appended, never merged or deduplicated.
			existing.channels = append(existing.channels, channels...)
		}
	}
}

func (m *stationXMLMerger) emerge(net *xmlNode) *networkEntry {
	key := attrFingerprint(net.Attr)
	entry, ok := m.networks[key]
	if !ok {
		entry = &networkEntry{node: net, stations: map[string]*stationEntry{}}
		m.networks[key] = entry
		m.order = append(m.order, key)
	}
	return entry
}

func (m *stationXMLMerger) empty() bool {
	return len(m.order) == 0
}

// serialize renders every merged Network element, re-attaching the
// Station and Channel elements detached during merging, in the order
// each Network/Station was first seen.
func (m *stationXMLMerger) serialize() [][]byte {
	out := make([][]byte, 0, len(m.order))
	for _, netKey := range m.order {
		entry := m.networks[netKey]
		for _, staKey := range entry.stationsOrder {
			sta := entry.stations[staKey]
			for _, ch := range sta.channels {
				sta.node.appendChild(ch)
			}
			entry.node.appendChild(sta.node)
		}

		var buf bytes.Buffer
		entry.node.writeTo(&buf)
		out = append(out, buf.Bytes())
	}
	return out
}

// StationXMLWorker implements the StationXML tree-merge format (spec
// §4.4.3). A job groups every route belonging to one network
// (routing.GroupByNetwork); the worker fetches each route's stream
// epochs, parses the resulting document, and merges it into a single
// per-job stationXMLMerger before emitting the merged Network elements.
type StationXMLWorker struct {
	deps WorkerDeps
}

// NewStationXMLWorkerFactory returns a WorkerFactory for the StationXML
// tree-merge worker.
func NewStationXMLWorkerFactory() WorkerFactory {
	return func(deps WorkerDeps) Worker {
		return &StationXMLWorker{deps: deps}
	}
}

func (w *StationXMLWorker) RunJob(ctx context.Context, job Job) error {
	merger := newStationXMLMerger(w.deps.Level)

	for _, route := range job.Routes {
		for _, epoch := range route.StreamEpochs {
			single := routing.Route{URL: route.URL, StreamEpochs: []sncl.StreamEpoch{epoch}}

			resp, ok, err := w.deps.Fetcher.Fetch(ctx, route.URL, single, w.deps.Format, job.QueryParams)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			root, parseErr := parseXML(resp.Body)
			resp.Body.Close()
			if parseErr != nil {
				// Malformed upstream document: no-data for this route,
				// processing continues with whatever else was fetched.
				continue
			}
			merger.mergeDocument(root)
		}
	}

	if merger.empty() {
		return nil
	}

	w.deps.Prepare()
	for i, chunk := range merger.serialize() {
		if err := w.deps.Emit(ctx, i, chunk); err != nil {
			return err
		}
	}
	return nil
}
