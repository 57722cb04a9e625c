package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

// Observation issue reasons.
const (
	IssueMalformedMAC   = "malformed_mac"
	IssueRSSIOutOfRange = "rssi_out_of_range"
	IssueUnknownPeer    = "unknown_peer"
	IssueUnknownDevice  = "unknown_reporter"
	IssueSelfReport     = "self_observation"
)

// ObservationIssue describes a scanned entry excluded from the graph.
// Dropped issues are data-quality events; the rest are ignored noise.
type ObservationIssue struct {
	ScanID     string
	DeviceID   string
	MacAddress string
	RSSI       int
	Reason     string
	Dropped    bool
}

// GraphPolicy holds the edge classification rules of a session.
type GraphPolicy struct {
	RSSIThreshold int
	AnchorTrust   models.AnchorTrust
}

// ProximityEdge is an undirected RSSI-weighted edge between two devices.
type ProximityEdge struct {
	A         string `json:"a"`
	B         string `json:"b"`
	RSSI      int    `json:"rssi"`
	AtoB      bool   `json:"a_to_b"`
	BtoA      bool   `json:"b_to_a"`
	Confirmed bool   `json:"confirmed"`
}

// Mutual reports whether both endpoints observed each other.
func (e ProximityEdge) Mutual() bool {
	return e.AtoB && e.BtoA
}

type edgeKey struct{ a, b string }

func newEdgeKey(x, y string) edgeKey {
	if x < y {
		return edgeKey{a: x, b: y}
	}
	return edgeKey{a: y, b: x}
}

// ProximityGraph is the classified proximity graph of one round.
type ProximityGraph struct {
	RoundID        string
	AnchorDeviceID string

	edges     map[edgeKey]*ProximityEdge
	confirmed map[string][]string
}

// BuildProximityGraph merges scans into an undirected graph and classifies its edges.
// Duplicate observations of a pair in either direction keep the strongest RSSI.
func BuildProximityGraph(dir *models.ParticipantDirectory, scans []models.BluetoothScan, policy GraphPolicy) (*ProximityGraph, []ObservationIssue) {
	g := &ProximityGraph{
		AnchorDeviceID: dir.AnchorDeviceID,
		edges:          make(map[edgeKey]*ProximityEdge),
		confirmed:      make(map[string][]string),
	}
	var issues []ObservationIssue

	byMac := dir.ByMac()
	byDevice := dir.ByDevice()

	for _, scan := range scans {
		if _, ok := byDevice[scan.DeviceID]; !ok {
			issues = append(issues, ObservationIssue{ScanID: scan.ID, DeviceID: scan.DeviceID, Reason: IssueUnknownDevice})
			continue
		}
		for _, seen := range scan.ScannedDevices {
			issue := ObservationIssue{ScanID: scan.ID, DeviceID: scan.DeviceID, MacAddress: seen.MacAddress, RSSI: seen.RSSI}
			mac, ok := models.NormalizeMAC(seen.MacAddress)
			if !ok {
				issue.Reason, issue.Dropped = IssueMalformedMAC, true
				issues = append(issues, issue)
				continue
			}
			if !models.ValidRSSI(seen.RSSI) {
				issue.Reason, issue.Dropped = IssueRSSIOutOfRange, true
				issues = append(issues, issue)
				continue
			}
			peer, ok := byMac[mac]
			if !ok {
				issue.Reason = IssueUnknownPeer
				issues = append(issues, issue)
				continue
			}
			if peer.DeviceID == scan.DeviceID {
				issue.Reason = IssueSelfReport
				issues = append(issues, issue)
				continue
			}
			g.observe(scan.DeviceID, peer.DeviceID, seen.RSSI)
		}
	}

	for key, edge := range g.edges {
		edge.Confirmed = g.classify(edge, policy)
		if edge.Confirmed {
			g.confirmed[key.a] = append(g.confirmed[key.a], key.b)
			g.confirmed[key.b] = append(g.confirmed[key.b], key.a)
		}
	}
	for _, peers := range g.confirmed {
		sort.Strings(peers)
	}
	return g, issues
}

func (g *ProximityGraph) observe(reporter, peer string, rssi int) {
	key := newEdgeKey(reporter, peer)
	edge, ok := g.edges[key]
	if !ok {
		edge = &ProximityEdge{A: key.a, B: key.b, RSSI: rssi}
		g.edges[key] = edge
	} else if rssi > edge.RSSI {
		edge.RSSI = rssi
	}
	if reporter == key.a {
		edge.AtoB = true
	} else {
		edge.BtoA = true
	}
}

func (g *ProximityGraph) classify(edge *ProximityEdge, policy GraphPolicy) bool {
	if edge.RSSI < policy.RSSIThreshold {
		return false
	}
	if edge.Mutual() {
		return true
	}
	if policy.AnchorTrust != models.AnchorTrustAsymmetric || g.AnchorDeviceID == "" {
		return false
	}
	switch g.AnchorDeviceID {
	case edge.A:
		return edge.AtoB
	case edge.B:
		return edge.BtoA
	default:
		return false
	}
}

// Edge returns the merged edge between two devices.
func (g *ProximityGraph) Edge(x, y string) (ProximityEdge, bool) {
	edge, ok := g.edges[newEdgeKey(x, y)]
	if !ok {
		return ProximityEdge{}, false
	}
	return *edge, true
}

// Confirmed reports whether x and y share a confirmed edge.
func (g *ProximityGraph) Confirmed(x, y string) bool {
	edge, ok := g.edges[newEdgeKey(x, y)]
	return ok && edge.Confirmed
}

// Isolated reports whether the device has no confirmed edge.
func (g *ProximityGraph) Isolated(deviceID string) bool {
	return len(g.confirmed[deviceID]) == 0
}

// HopsToAnchor returns the number of confirmed hops between the device and the anchor,
// searching at most maxHops. maxHops below 1 means direct edges only.
func (g *ProximityGraph) HopsToAnchor(deviceID string, maxHops int) (int, bool) {
	if g.AnchorDeviceID == "" || deviceID == "" {
		return 0, false
	}
	hops, ok := g.Reachable(maxHops)[deviceID]
	return hops, ok
}

// Reachable runs a breadth-first search from the anchor and returns the hop count of
// every device reachable within maxHops.
func (g *ProximityGraph) Reachable(maxHops int) map[string]int {
	if maxHops < 1 {
		maxHops = 1
	}
	dist := make(map[string]int)
	if g.AnchorDeviceID == "" {
		return dist
	}
	frontier := []string{g.AnchorDeviceID}
	seen := map[string]bool{g.AnchorDeviceID: true}
	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, peer := range g.confirmed[node] {
				if seen[peer] {
					continue
				}
				seen[peer] = true
				dist[peer] = depth
				next = append(next, peer)
			}
		}
		frontier = next
	}
	return dist
}

// Edges returns every merged edge ordered by endpoints.
func (g *ProximityGraph) Edges() []ProximityEdge {
	out := make([]ProximityEdge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A == out[j].A {
			return out[i].B < out[j].B
		}
		return out[i].A < out[j].A
	})
	return out
}

type scanStore interface {
	Insert(ctx context.Context, scan *models.BluetoothScan) (bool, error)
	ListBySessionWindow(ctx context.Context, sessionID string, from, to time.Time) ([]models.BluetoothScan, error)
}

type graphSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type graphRoundReader interface {
	FindByID(ctx context.Context, id string) (*models.Round, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.Round, error)
}

type directoryResolver interface {
	Resolve(ctx context.Context, session *models.Session) (*models.ParticipantDirectory, error)
}

// ProximityGraphBuilder loads a round's scans and builds its proximity graph.
type ProximityGraphBuilder struct {
	scans     scanStore
	sessions  graphSessionReader
	rounds    graphRoundReader
	directory directoryResolver
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewProximityGraphBuilder constructs the builder.
func NewProximityGraphBuilder(scans scanStore, sessions graphSessionReader, rounds graphRoundReader, directory directoryResolver, metrics *MetricsService, logger *zap.Logger) *ProximityGraphBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProximityGraphBuilder{scans: scans, sessions: sessions, rounds: rounds, directory: directory, metrics: metrics, logger: logger}
}

// BuildForRound resolves the round, its session and participants, then builds the graph.
func (b *ProximityGraphBuilder) BuildForRound(ctx context.Context, roundID string) (*ProximityGraph, error) {
	round, err := b.rounds.FindByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "round not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load round")
	}
	session, err := b.sessions.FindByID(ctx, round.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	dir, err := b.directory.Resolve(ctx, session)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, session, round, dir)
}

// Build reads scans with timestamp in [round.start, round.end + attendance window] and classifies them.
func (b *ProximityGraphBuilder) Build(ctx context.Context, session *models.Session, round *models.Round, dir *models.ParticipantDirectory) (*ProximityGraph, error) {
	from := round.StartTime
	to := round.ScanWindowEnd(session.Config.AttendanceWindow())
	scans, err := b.scans.ListBySessionWindow(ctx, session.ID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scans")
	}
	scans, err = b.withoutCancelledRounds(ctx, session.ID, round.ID, scans)
	if err != nil {
		return nil, err
	}

	graph, issues := BuildProximityGraph(dir, scans, GraphPolicy{
		RSSIThreshold: session.Config.RSSIThreshold,
		AnchorTrust:   session.Config.AnchorTrust,
	})
	graph.RoundID = round.ID

	for _, issue := range issues {
		fields := []zap.Field{
			zap.String("round_id", round.ID),
			zap.String("scan_id", issue.ScanID),
			zap.String("device_id", issue.DeviceID),
			zap.String("mac_address", issue.MacAddress),
			zap.Int("rssi", issue.RSSI),
			zap.String("reason", issue.Reason),
		}
		if issue.Dropped {
			b.metrics.RecordDataQuality(issue.Reason)
			b.logger.Warn("data quality: observation dropped", fields...)
			continue
		}
		b.logger.Debug("observation ignored", fields...)
	}

	b.logger.Debug("proximity graph built",
		zap.String("round_id", round.ID),
		zap.Int("scans", len(scans)),
		zap.Int("edges", len(graph.edges)),
		zap.Time("from", from),
		zap.Time("to", to),
	)
	return graph, nil
}

// withoutCancelledRounds drops scans attributed to a cancelled round of the session. Scans of the
// evaluated round are always kept.
func (b *ProximityGraphBuilder) withoutCancelledRounds(ctx context.Context, sessionID, roundID string, scans []models.BluetoothScan) ([]models.BluetoothScan, error) {
	foreign := false
	for i := range scans {
		if scans[i].RoundID != roundID {
			foreign = true
			break
		}
	}
	if !foreign {
		return scans, nil
	}
	rounds, err := b.rounds.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session rounds")
	}
	cancelled := make(map[string]bool)
	for _, r := range rounds {
		if r.Status == models.RoundStatusCancelled {
			cancelled[r.ID] = true
		}
	}
	if len(cancelled) == 0 {
		return scans, nil
	}
	kept := scans[:0]
	for _, scan := range scans {
		if scan.RoundID != roundID && cancelled[scan.RoundID] {
			b.logger.Debug("scan of cancelled round skipped",
				zap.String("round_id", roundID),
				zap.String("scan_id", scan.ID),
				zap.String("scan_round_id", scan.RoundID),
			)
			continue
		}
		kept = append(kept, scan)
	}
	return kept, nil
}

// String renders a compact description for logs.
func (g *ProximityGraph) String() string {
	confirmed := 0
	for _, e := range g.edges {
		if e.Confirmed {
			confirmed++
		}
	}
	return fmt.Sprintf("round=%s anchor=%s edges=%d confirmed=%d", g.RoundID, g.AnchorDeviceID, len(g.edges), confirmed)
}
