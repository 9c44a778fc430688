package matchmaking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClusterInput is one player's skill snapshot fed to the remote
// skill-based matcher (§4.F step 4: "clusters players on (theta, beta)").
type ClusterInput struct {
	UserID string  `json:"user_id"`
	Theta  float64 `json:"theta"`
	Beta   float64 `json:"beta"`
}

// ClusterResult is the sub-group the remote kernel picked out of a
// candidate group, plus its pairwise-compatibility score.
type ClusterResult struct {
	Matched    bool
	UserIDs    []string
	MatchScore float64
	ClusterID  string
}

// ClusterClient runs the k-means-then-assignment skill matcher remotely.
type ClusterClient interface {
	Cluster(ctx context.Context, candidates []ClusterInput, minScore float64) (ClusterResult, error)
}

// httpClusterClient calls a remote clustering kernel over HTTP, the same
// "JSON request/response behind a bounded-timeout http.Client" shape as
// the adaptive kernel client, scaled down since clustering has no
// circuit-breaker/retry requirement of its own in §4.F.
type httpClusterClient struct {
	serviceURL string
	timeout    time.Duration
	http       *http.Client
}

// NewHTTPClusterClient builds a ClusterClient against a remote service URL.
func NewHTTPClusterClient(serviceURL string, timeout time.Duration) ClusterClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &httpClusterClient{
		serviceURL: serviceURL,
		timeout:    timeout,
		http:       &http.Client{Timeout: timeout},
	}
}

type clusterRequest struct {
	Candidates []ClusterInput `json:"candidates"`
	MinScore   float64        `json:"min_score"`
}

type clusterResponse struct {
	Matched    bool     `json:"matched"`
	UserIDs    []string `json:"user_ids"`
	MatchScore float64  `json:"match_score"`
	ClusterID  string   `json:"cluster_id"`
}

func (c *httpClusterClient) Cluster(ctx context.Context, candidates []ClusterInput, minScore float64) (ClusterResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(clusterRequest{Candidates: candidates, MinScore: minScore})
	if err != nil {
		return ClusterResult{}, fmt.Errorf("marshal cluster request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/cluster", bytes.NewReader(body))
	if err != nil {
		return ClusterResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ClusterResult{}, fmt.Errorf("cluster request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ClusterResult{}, fmt.Errorf("cluster service returned %d", resp.StatusCode)
	}

	var out clusterResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return ClusterResult{}, fmt.Errorf("decode cluster response: %w", err)
	}

	return ClusterResult{
		Matched:    out.Matched,
		UserIDs:    out.UserIDs,
		MatchScore: out.MatchScore,
		ClusterID:  out.ClusterID,
	}, nil
}
