// Package netmap loads road network geometry for frontend rendering. It
// understands the SUMO .net.xml format: plain edges with their lane shapes,
// and the signal-controlled connections ordered by link index.
package netmap

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Point is one vertex of a rendered polyline.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is one drivable road segment. Shape and width come from the first
// lane, matching how the rendering client draws the road body.
type Edge struct {
	ID    string  `json:"id"`
	Shape []Point `json:"shape"`
	Width float64 `json:"width"`
	Lanes int     `json:"lanes"`
}

// Lane is one individual lane polyline.
type Lane struct {
	ID    string  `json:"id"`
	Shape []Point `json:"shape"`
}

// TLSLink is one signal-controlled connection through a junction.
type TLSLink struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Via       string `json:"via"`
	LinkIndex int    `json:"linkIndex"`
}

// TLS groups the controlled connections of one traffic light, sorted by link
// index so position i of a phase state string governs Links[i].
type TLS struct {
	Links []TLSLink `json:"links"`
}

// Network is the parsed geometry served to rendering clients.
type Network struct {
	Edges []Edge         `json:"edges"`
	Lanes []Lane         `json:"lanes"`
	TLS   map[string]TLS `json:"tls"`
}

type xmlNetwork struct {
	Edges       []xmlEdge       `xml:"edge"`
	TLLogics    []xmlTLLogic    `xml:"tlLogic"`
	Connections []xmlConnection `xml:"connection"`
}

type xmlEdge struct {
	ID       string    `xml:"id,attr"`
	Function string    `xml:"function,attr"`
	Lanes    []xmlLane `xml:"lane"`
}

type xmlLane struct {
	ID    string `xml:"id,attr"`
	Shape string `xml:"shape,attr"`
	Width string `xml:"width,attr"`
}

type xmlTLLogic struct {
	ID string `xml:"id,attr"`
}

type xmlConnection struct {
	From      string `xml:"from,attr"`
	To        string `xml:"to,attr"`
	Via       string `xml:"via,attr"`
	TL        string `xml:"tl,attr"`
	LinkIndex *int   `xml:"linkIndex,attr"`
}

const defaultLaneWidth = 3.2

// ParseFile loads and parses a network file.
func ParseFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("netmap: open network file: %w", err)
	}
	defer f.Close()
	network, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("netmap: parse %s: %w", path, err)
	}
	return network, nil
}

// Parse decodes a network document from r.
func Parse(r io.Reader) (*Network, error) {
	var doc xmlNetwork
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}

	network := &Network{
		Edges: make([]Edge, 0, len(doc.Edges)),
		Lanes: make([]Lane, 0),
		TLS:   make(map[string]TLS, len(doc.TLLogics)),
	}

	for _, edge := range doc.Edges {
		// Internal edges are junction plumbing; they carry no road body but
		// their lane shapes still matter for detailed drawing below.
		if edge.Function != "internal" && len(edge.Lanes) > 0 {
			width := defaultLaneWidth
			if edge.Lanes[0].Width != "" {
				if parsed, err := strconv.ParseFloat(edge.Lanes[0].Width, 64); err == nil {
					width = parsed
				}
			}
			network.Edges = append(network.Edges, Edge{
				ID:    edge.ID,
				Shape: parseShape(edge.Lanes[0].Shape),
				Width: width,
				Lanes: len(edge.Lanes),
			})
		}
		for _, lane := range edge.Lanes {
			if lane.Shape == "" {
				continue
			}
			network.Lanes = append(network.Lanes, Lane{ID: lane.ID, Shape: parseShape(lane.Shape)})
		}
	}

	for _, logic := range doc.TLLogics {
		var links []TLSLink
		for _, conn := range doc.Connections {
			if conn.TL != logic.ID || conn.LinkIndex == nil {
				continue
			}
			links = append(links, TLSLink{
				From:      conn.From,
				To:        conn.To,
				Via:       conn.Via,
				LinkIndex: *conn.LinkIndex,
			})
		}
		sort.Slice(links, func(i, j int) bool {
			return links[i].LinkIndex < links[j].LinkIndex
		})
		network.TLS[logic.ID] = TLS{Links: links}
	}

	return network, nil
}

// parseShape decodes the "x1,y1 x2,y2 ..." attribute format. Malformed
// vertices are skipped rather than failing the whole document.
func parseShape(raw string) []Point {
	fields := strings.Fields(raw)
	points := make([]Point, 0, len(fields))
	for _, field := range fields {
		coords := strings.Split(field, ",")
		if len(coords) < 2 {
			continue
		}
		x, errX := strconv.ParseFloat(coords[0], 64)
		y, errY := strconv.ParseFloat(coords[1], 64)
		if errX != nil || errY != nil {
			continue
		}
		points = append(points, Point{X: x, Y: y})
	}
	return points
}
