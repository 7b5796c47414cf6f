package balancer

import "fmt"

// ServerLoad is one server's row in the cluster report.
type ServerLoad struct {
	ServerID              string   `json:"serverId"`
	Hostname              string   `json:"hostname"`
	Port                  string   `json:"port"`
	Connections           int      `json:"connections"`
	Matches               int      `json:"matches"`
	CPUUsage              float64  `json:"cpuUsage"`
	MemoryUsage           uint64   `json:"memoryUsage"`
	ConnectionUtilization float64  `json:"connectionUtilization"`
	MatchUtilization      float64  `json:"matchUtilization"`
	Utilization           float64  `json:"utilization"`
	Weight                float64  `json:"weight"`
	Available             bool     `json:"available"`
	Recommendations       []string `json:"recommendations"`
}

// ClusterStats is the admin-facing distribution report.
type ClusterStats struct {
	Strategy           Strategy     `json:"strategy"`
	TotalServers       int          `json:"totalServers"`
	AvailableServers   int          `json:"availableServers"`
	TotalConnections   int          `json:"totalConnections"`
	TotalMatches       int          `json:"totalMatches"`
	AverageUtilization float64      `json:"averageUtilization"`
	Efficiency         float64      `json:"efficiency"`
	Servers            []ServerLoad `json:"servers"`
	Recommendations    []string     `json:"recommendations"`
}

const (
	utilizationLow      = 30
	utilizationModerate = 50
	utilizationHigh     = 80
)

// Stats builds the cluster distribution report over every known server,
// including ones currently failing the availability predicate.
func (b *Balancer) Stats() ClusterStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := b.fleet.Servers()
	stats := ClusterStats{
		Strategy:        b.strategy,
		TotalServers:    len(all),
		Servers:         make([]ServerLoad, 0, len(all)),
		Recommendations: []string{},
	}

	var utilSum float64
	connUtils := make([]float64, 0, len(all))
	matchUtils := make([]float64, 0, len(all))
	for _, info := range all {
		connUtil := b.connUtilization(info)
		matchUtil := b.matchUtilization(info)
		util := b.utilization(info)
		avail := b.available(info)
		stats.Servers = append(stats.Servers, ServerLoad{
			ServerID:              info.ServerID,
			Hostname:              info.Hostname,
			Port:                  info.Port,
			Connections:           info.TotalConnections,
			Matches:               info.ActiveMatches,
			CPUUsage:              info.CPUUsage,
			MemoryUsage:           info.MemoryUsage,
			ConnectionUtilization: connUtil,
			MatchUtilization:      matchUtil,
			Utilization:           util,
			Weight:                b.weightOf(info.ServerID),
			Available:             avail,
			Recommendations:       serverAdvisories(connUtil, matchUtil),
		})
		stats.TotalConnections += info.TotalConnections
		stats.TotalMatches += info.ActiveMatches
		if avail {
			stats.AvailableServers++
			utilSum += util
			connUtils = append(connUtils, connUtil)
			matchUtils = append(matchUtils, matchUtil)
		}
	}

	if stats.AvailableServers > 0 {
		stats.AverageUtilization = utilSum / float64(stats.AvailableServers)
	}
	stats.Efficiency = efficiency(connUtils, matchUtils)
	stats.Recommendations = clusterAdvisories(stats)
	return stats
}

// serverAdvisories are the per-server placement hints at the standard
// utilization thresholds.
func serverAdvisories(connUtil, matchUtil float64) []string {
	recs := []string{}
	if connUtil > utilizationHigh || matchUtil > utilizationHigh {
		recs = append(recs, "overloaded; shed load from this server")
		return recs
	}
	if connUtil < utilizationLow {
		recs = append(recs, "underutilized")
	}
	if connUtil < utilizationModerate {
		recs = append(recs, "good target for new connections")
	}
	if matchUtil < utilizationModerate {
		recs = append(recs, "good target for new matches")
	}
	return recs
}

// efficiency scores how evenly load is spread across the fleet: 100 minus
// the average of the connection- and match-utilization variances. A fleet
// where every server carries the same share scores 100.
func efficiency(connUtils, matchUtils []float64) float64 {
	if len(connUtils) == 0 {
		return 0
	}
	score := 100 - (variance(connUtils)+variance(matchUtils))/2
	if score < 0 {
		return 0
	}
	return score
}

func variance(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return sq / float64(len(vals))
}

func clusterAdvisories(stats ClusterStats) []string {
	recs := []string{}

	if stats.AvailableServers == 0 {
		recs = append(recs, "no servers available for new matches; check fleet health")
		return recs
	}
	if excluded := stats.TotalServers - stats.AvailableServers; excluded > 0 {
		recs = append(recs, fmt.Sprintf("%d server(s) excluded from rotation (stale or at capacity)", excluded))
	}
	if stats.Efficiency < 70 && stats.AvailableServers > 1 {
		recs = append(recs, "load is unevenly distributed; consider the least_connections strategy")
	}
	return recs
}
