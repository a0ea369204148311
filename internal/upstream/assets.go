package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"grok2api-go/internal/logging"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const assetsPageSize = "50"

// Asset is one entry of the online asset library.
type Asset struct {
	ID  string
	Raw gjson.Result
}

// DeleteAllResult summarises a bulk asset purge. Assets without an id count
// towards Total only.
type DeleteAllResult struct {
	Total   int  `json:"total"`
	Success int  `json:"success"`
	Failed  int  `json:"failed"`
	Skipped bool `json:"skipped,omitempty"`
	// ListStatus is the HTTP status of a failed listing, 0 otherwise.
	ListStatus int `json:"list_status,omitempty"`
}

// ListAssets walks every page of the account's asset list.
func (c *Client) ListAssets(ctx context.Context, token string) ([]Asset, error) {
	opts := c.Options()
	var (
		assets    []Asset
		pageToken string
		seen      = map[string]struct{}{}
	)
	for {
		q := url.Values{}
		q.Set("pageSize", assetsPageSize)
		q.Set("orderBy", "ORDER_BY_LAST_USE_TIME")
		q.Set("source", "SOURCE_ANY")
		q.Set("isLatest", "true")
		if pageToken != "" {
			if _, dup := seen[pageToken]; dup {
				log.WithField("token", logging.MaskToken(token)).Warn("upstream: asset page token repeated, stopping")
				break
			}
			seen[pageToken] = struct{}{}
			q.Set("pageToken", pageToken)
		}

		resp, err := c.do(ctx, token, request{
			op:      "assets_list",
			method:  http.MethodGet,
			url:     opts.BaseURL + "/rest/assets?" + q.Encode(),
			header:  c.browserHeaders(token, opts.BaseURL+"/files"),
			timeout: opts.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if resp.status != http.StatusOK {
			return nil, &StatusError{Op: "list assets", Status: resp.status, Body: bodyPreview(resp.body)}
		}
		if !gjson.ValidBytes(resp.body) {
			return nil, fmt.Errorf("list assets parse error; body: %s", bodyPreview(resp.body))
		}
		page := gjson.ParseBytes(resp.body)
		page.Get("assets").ForEach(func(_, v gjson.Result) bool {
			assets = append(assets, Asset{ID: v.Get("assetId").String(), Raw: v})
			return true
		})
		pageToken = page.Get("nextPageToken").String()
		if pageToken == "" {
			break
		}
	}
	return assets, nil
}

// CountAssets returns the number of assets in the library.
func (c *Client) CountAssets(ctx context.Context, token string) (int, error) {
	assets, err := c.ListAssets(ctx, token)
	if err != nil {
		return 0, err
	}
	return len(assets), nil
}

// DeleteAsset removes one asset.
func (c *Client) DeleteAsset(ctx context.Context, token, assetID string) error {
	opts := c.Options()
	resp, err := c.do(ctx, token, request{
		op:      "assets_delete",
		method:  http.MethodDelete,
		url:     opts.BaseURL + "/rest/assets-metadata/" + url.PathEscape(assetID),
		header:  c.browserHeaders(token, opts.BaseURL+"/files"),
		timeout: opts.Timeout,
	})
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return &StatusError{Op: "delete asset", Status: resp.status, Body: bodyPreview(resp.body)}
	}
	return nil
}

// DeleteAll purges the asset library one asset at a time. A listing failure
// is treated like an empty library.
func (c *Client) DeleteAll(ctx context.Context, token string) DeleteAllResult {
	assets, err := c.ListAssets(ctx, token)
	if err != nil {
		log.WithError(err).WithField("token", logging.MaskToken(token)).Warn("upstream: list assets failed")
	}
	if len(assets) == 0 {
		status, _ := StatusOf(err)
		return DeleteAllResult{Skipped: true, ListStatus: status}
	}
	var res DeleteAllResult
	for _, a := range assets {
		res.Total++
		if a.ID == "" {
			continue
		}
		if err := c.DeleteAsset(ctx, token, a.ID); err != nil {
			res.Failed++
			continue
		}
		res.Success++
	}
	return res
}
