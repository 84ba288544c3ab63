package search

import (
	"container/heap"
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetchmode"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/geo"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

// HeuristicFunc estimates the remaining cost in meters between two points.
type HeuristicFunc func(lat1, lon1, lat2, lon2 float64) float64

// dirState is one half of the bidirectional search: an independent weighted
// search with its own open set, closed set, g-scores and predecessors.
type dirState struct {
	open      priorityQueue
	gScore    map[string]float64
	cameFrom  map[string]string
	closed    map[string]bool
	targetLat float64
	targetLon float64
}

func newDirState(origin graph.Node, targetLat, targetLon float64, h HeuristicFunc) *dirState {
	d := &dirState{
		open:      priorityQueue{},
		gScore:    map[string]float64{origin.ID: 0},
		cameFrom:  make(map[string]string),
		closed:    make(map[string]bool),
		targetLat: targetLat,
		targetLon: targetLon,
	}
	heap.Init(&d.open)
	heap.Push(&d.open, &priorityQueueItem{
		NodeID:   origin.ID,
		GScore:   0,
		Priority: h(origin.Lat, origin.Lon, targetLat, targetLon),
	})
	return d
}

func (d *dirState) minOpenPriority() float64 {
	if d.open.Len() == 0 {
		return math.Inf(1)
	}
	return d.open[0].Priority
}

// FindPath runs bidirectional A* between two materialized node ids. Tiles are
// pulled on demand through the session's store and queue as the frontiers
// expand. The search does not stop at the first meeting point: the first
// meeting is not guaranteed optimal, so it keeps scanning until the standard
// bound (sum of both open-set minima reaching the best total) proves
// optimality, the open sets drain, or the budget runs out.
func (s *Session) FindPath(ctx context.Context, startID, goalID string) Result {
	start, ok := s.Store.Node(startID)
	if !ok {
		return Result{Status: StatusNodeNotFound}
	}
	goal, ok := s.Store.Node(goalID)
	if !ok {
		return Result{Status: StatusNodeNotFound}
	}
	if startID == goalID {
		return Result{Path: []graph.Node{start}, Status: StatusOK}
	}

	crowMeters := geo.Haversine(start.Lat, start.Lon, goal.Lat, goal.Lon)
	crowKm := crowMeters / 1000
	iterCap := s.Cfg.BaseIterations + int(crowKm)*s.Cfg.IterationsPerKm
	timeout := s.Cfg.BaseTimeout + time.Duration(crowKm)*s.Cfg.TimeoutPerKm
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	forward := newDirState(start, goal.Lat, goal.Lon, s.Heuristic)
	backward := newDirState(goal, start.Lat, start.Lon, s.Heuristic)

	atGateway := s.lowDetailEndpoint(start) || s.lowDetailEndpoint(goal)

	bestCost := math.Inf(1)
	meeting := ""
	stall := 0
	lastFrontier := start
	timedOut := false

	iterations := 0
	for iterations < iterCap {
		if forward.open.Len() == 0 && backward.open.Len() == 0 {
			break
		}
		if meeting != "" && forward.minOpenPriority()+backward.minOpenPriority() >= bestCost {
			// No undiscovered meeting can beat the best one.
			break
		}

		cur, other := forward, backward
		if iterations%2 == 1 {
			cur, other = backward, forward
		}
		iterations++

		if cur.open.Len() == 0 {
			continue // let the other side drain
		}

		item := heap.Pop(&cur.open).(*priorityQueueItem)
		if cur.closed[item.NodeID] {
			continue
		}
		cur.closed[item.NodeID] = true

		if other.closed[item.NodeID] {
			total := cur.gScore[item.NodeID] + other.gScore[item.NodeID]
			if total < bestCost {
				bestCost = total
				meeting = item.NodeID
			}
		}

		if improved, node := s.expand(ctx, cur, other, item, &bestCost, &meeting); improved {
			stall = 0
			if cur == forward {
				lastFrontier = node
			}
		} else {
			stall++
		}

		if ctx.Err() != nil {
			timedOut = true
			break
		}
		if s.Cfg.HousekeepEvery > 0 && iterations%s.Cfg.HousekeepEvery == 0 {
			s.housekeep(iterations, forward, backward, bestCost, crowMeters, lastFrontier, goal, stall, atGateway)
		}
	}

	if meeting == "" {
		status := StatusNoPath
		if timedOut {
			status = StatusTimeout
		}
		s.logger.Debug("search found no path",
			zap.String("start", startID), zap.String("goal", goalID),
			zap.Int("iterations", iterations), zap.String("status", string(status)))
		return Result{Status: status, Iterations: iterations}
	}

	status := StatusOK
	if timedOut {
		// Best-known meeting at the deadline, possibly suboptimal.
		status = StatusTimeout
	}
	return Result{
		Path:       s.splicePath(forward, backward, meeting),
		Cost:       bestCost,
		Status:     status,
		Iterations: iterations,
	}
}

// expand materializes the popped node's tile if needed, prefetches around
// tile edges, and relaxes all outgoing edges. Every relaxed edge whose far end
// is already scanned by the opposite search is a meeting candidate: updating
// the best total here, not just at double-closed pops, is what makes the
// sum-of-minima termination bound sound. Returns whether any g-score improved,
// plus the node for frontier tracking.
func (s *Session) expand(ctx context.Context, d, other *dirState, item *priorityQueueItem,
	bestCost *float64, meeting *string) (bool, graph.Node) {

	node, ok := s.Store.Node(item.NodeID)
	if !ok {
		return false, graph.Node{}
	}

	key := geo.TileKey(node.Lat, node.Lon, s.Cfg.TileSizeDeg)
	s.ensureTile(ctx, key)
	if s.nearTileEdge(node) {
		s.prefetchAdjacent(key)
	}

	improved := false
	for _, nb := range s.Store.Neighbors(item.NodeID) {
		nbNode, known := s.Store.Node(nb.To)
		if !known {
			continue
		}
		tentative := item.GScore + nb.Weight
		// Crossing totals use the g-score splicing will follow: the recorded
		// one for settled or already-better nodes, the tentative one when the
		// relaxation below is about to record it.
		gHere := tentative
		if old, seen := d.gScore[nb.To]; seen && (old < gHere || d.closed[nb.To]) {
			gHere = old
		}
		if gOther, crossed := other.gScore[nb.To]; crossed {
			if total := gHere + gOther; total < *bestCost {
				*bestCost = total
				*meeting = nb.To
			}
		}
		// A closed node's g-score is final; re-relaxing it would corrupt the
		// predecessor chain if the heuristic is admissible but inconsistent.
		if d.closed[nb.To] {
			continue
		}
		if old, seen := d.gScore[nb.To]; seen && tentative >= old {
			continue
		}
		d.gScore[nb.To] = tentative
		d.cameFrom[nb.To] = item.NodeID
		heap.Push(&d.open, &priorityQueueItem{
			NodeID:   nb.To,
			GScore:   tentative,
			Priority: tentative + s.Heuristic(nbNode.Lat, nbNode.Lon, d.targetLat, d.targetLon),
		})
		improved = true
	}
	return improved, node
}

// lowDetailEndpoint reports whether the node's tile is materialized below full
// street detail, marking the node as a gateway into a sparser region.
func (s *Session) lowDetailEndpoint(n graph.Node) bool {
	detail, ok := s.Store.Detail(geo.TileKey(n.Lat, n.Lon, s.Cfg.TileSizeDeg))
	return ok && detail < graph.Detailed
}

func (s *Session) housekeep(iterations int, forward, backward *dirState, bestCost, crowMeters float64,
	frontier, goal graph.Node, stall int, atGateway bool) {

	s.Store.EvictIfOverBudget()

	remaining := s.Heuristic(frontier.Lat, frontier.Lon, goal.Lat, goal.Lon)
	progressPct := 0.0
	if crowMeters > 0 {
		progressPct = 100 * (1 - remaining/crowMeters)
		if progressPct < 0 {
			progressPct = 0
		}
	}

	s.emitProgress(ProgressEvent{
		Iteration:   iterations,
		OpenForward: forward.open.Len(),
		OpenBack:    backward.open.Len(),
		BestCost:    bestCost,
		TilesLoaded: s.TilesLoaded(),
	})

	if s.Modes != nil {
		s.Modes.Evaluate(fetchmode.Metrics{
			DistanceToGoalM: remaining,
			StallCount:      stall,
			ProgressPct:     progressPct,
			TilesLoaded:     s.TilesLoaded(),
			OpenSetSize:     forward.open.Len() + backward.open.Len(),
			AtGateway:       atGateway,
		})
	}
}

// splicePath walks the forward predecessor chain from the meeting node back
// to the start, then the backward chain out to the goal, dropping the
// duplicated meeting node.
func (s *Session) splicePath(forward, backward *dirState, meeting string) []graph.Node {
	var ids []string
	cur := meeting
	for {
		ids = append([]string{cur}, ids...)
		prev, ok := forward.cameFrom[cur]
		if !ok {
			break
		}
		cur = prev
	}
	cur = meeting
	for {
		next, ok := backward.cameFrom[cur]
		if !ok {
			break
		}
		ids = append(ids, next)
		cur = next
	}

	path := make([]graph.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.Store.Node(id); ok {
			path = append(path, n)
		}
	}
	return path
}
