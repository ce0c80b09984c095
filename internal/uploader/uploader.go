package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
)

// batchSize is the fixed number of nodes per upload request.
const batchSize = 50

// Node is one locally-known bookmark node from the client's tree source.
// ParentLocalID is empty for roots; a parent id that matches no node in the
// same upload set is treated as a root (orphans are tolerated).
type Node struct {
	LocalID       string
	ParentLocalID string
	Title         string
	URL           *string
	Favicon       string
	IsFolder      bool
	SortOrder     int
}

// Client uploads a local bookmark tree to the server's REST API.
//
// Uploads proceed depth-group by depth-group, shallowest first, so a parent
// always exists server side (under its already-assigned remote id) before
// any child references it. Batches within a sync run are awaited one at a
// time: later depths cannot resolve parent ids until earlier depths have
// returned their assignments. This serialization is a correctness
// requirement, not a throughput choice.
type Client struct {
	baseURL string
	session *Session
	http    *http.Client
	logger  *log.Logger
}

// New creates an upload client for the server at baseURL.
func New(baseURL string, session *Session, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[uploader] ", log.LstdFlags)
	}
	return &Client{
		baseURL: baseURL,
		session: session,
		http:    httpClient,
		logger:  logger,
	}
}

// FullResync wipes the server-side tree, drops all local mappings, and
// re-uploads every node. There is no rollback across batches: a run cut
// short leaves the server holding the batches that completed, and the next
// UploadUnmapped run finishes the job.
func (c *Client) FullResync(ctx context.Context, nodes []Node) error {
	if err := c.session.Restore(); err != nil {
		return err
	}

	if err := c.post(ctx, "/api/bookmarks/clear", nil, nil); err != nil {
		return fmt.Errorf("failed to clear server state: %w", err)
	}
	if err := c.session.ResetMappings(); err != nil {
		return err
	}

	c.logger.Printf("Full resync: uploading %d nodes", len(nodes))
	return c.uploadDepthOrdered(ctx, nodes, false)
}

// UploadUnmapped uploads only the nodes that have no remote-id mapping yet,
// without clearing server state. This is the periodic/background path and
// the recovery path after an interrupted sync run.
func (c *Client) UploadUnmapped(ctx context.Context, nodes []Node) error {
	if err := c.session.Restore(); err != nil {
		return err
	}
	return c.uploadDepthOrdered(ctx, nodes, true)
}

// uploadDepthOrdered groups nodes by tree depth and uploads ascending.
// When skipMapped is set, nodes that already resolve to a remote id are
// not re-uploaded (their mapping is still used for their children).
func (c *Client) uploadDepthOrdered(ctx context.Context, nodes []Node, skipMapped bool) error {
	byDepth := groupByDepth(nodes)

	depths := make([]int, 0, len(byDepth))
	for depth := range byDepth {
		depths = append(depths, depth)
	}
	sort.Ints(depths)

	for _, depth := range depths {
		group := byDepth[depth]
		if skipMapped {
			unmapped := group[:0]
			for _, node := range group {
				if _, ok := c.session.RemoteID(node.LocalID); !ok {
					unmapped = append(unmapped, node)
				}
			}
			group = unmapped
		}
		for start := 0; start < len(group); start += batchSize {
			end := start + batchSize
			if end > len(group) {
				end = len(group)
			}
			if err := c.uploadBatch(ctx, group[start:end]); err != nil {
				return fmt.Errorf("failed at depth %d: %w", depth, err)
			}
		}
	}
	return nil
}

// batchEntry is the wire shape of one node in a batch request.
type batchEntry struct {
	LocalID   string  `json:"localId"`
	ParentID  *string `json:"parentId"`
	Title     string  `json:"title"`
	URL       *string `json:"url"`
	Favicon   string  `json:"favicon,omitempty"`
	IsFolder  bool    `json:"isFolder"`
	SortOrder int     `json:"sortOrder"`
}

// uploadBatch sends one batch and records the returned id assignments.
func (c *Client) uploadBatch(ctx context.Context, nodes []Node) error {
	entries := make([]batchEntry, 0, len(nodes))
	for _, node := range nodes {
		entry := batchEntry{
			LocalID:   node.LocalID,
			Title:     node.Title,
			URL:       node.URL,
			Favicon:   node.Favicon,
			IsFolder:  node.IsFolder,
			SortOrder: node.SortOrder,
		}
		// A parent uploaded in an earlier depth group already has its
		// remote id; an unresolvable parent leaves the node a root.
		if node.ParentLocalID != "" {
			if remoteID, ok := c.session.RemoteID(node.ParentLocalID); ok {
				entry.ParentID = &remoteID
			}
		}
		entries = append(entries, entry)
	}

	var result struct {
		Bookmarks []struct {
			ID      string `json:"id"`
			LocalID string `json:"localId"`
		} `json:"bookmarks"`
		Count int `json:"count"`
	}
	payload := map[string]any{"bookmarks": entries}
	if err := c.post(ctx, "/api/bookmarks/batch", payload, &result); err != nil {
		return err
	}

	for _, created := range result.Bookmarks {
		if created.LocalID == "" {
			continue
		}
		if err := c.session.RecordMapping(created.LocalID, created.ID); err != nil {
			return err
		}
	}
	c.logger.Printf("Uploaded batch of %d nodes", result.Count)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.session.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d for %s", resp.StatusCode, path)
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// groupByDepth buckets nodes by distance from their root. Nodes whose
// parent is outside the set count as roots, matching the server's
// orphan-tolerant reading of the tree.
func groupByDepth(nodes []Node) map[int][]Node {
	index := make(map[string]*Node, len(nodes))
	for i := range nodes {
		index[nodes[i].LocalID] = &nodes[i]
	}

	depths := make(map[string]int, len(nodes))
	var depthOf func(id string, seen map[string]bool) int
	depthOf = func(id string, seen map[string]bool) int {
		if depth, ok := depths[id]; ok {
			return depth
		}
		node := index[id]
		// Cycles cannot happen in a well-formed tree; break them as roots
		// rather than recursing forever on corrupted input.
		if node.ParentLocalID == "" || index[node.ParentLocalID] == nil || seen[id] {
			depths[id] = 0
			return 0
		}
		seen[id] = true
		depth := depthOf(node.ParentLocalID, seen) + 1
		depths[id] = depth
		return depth
	}

	byDepth := make(map[int][]Node)
	for _, node := range nodes {
		depth := depthOf(node.LocalID, make(map[string]bool))
		byDepth[depth] = append(byDepth[depth], node)
	}
	return byDepth
}
