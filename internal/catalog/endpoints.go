package catalog

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// AlbumsOptions filters GetArtistAlbums. Zero values mean album,single / US / 50 / 0.
type AlbumsOptions struct {
	IncludeGroups []string
	Market        string
	Limit         int
	Offset        int
}

func (o AlbumsOptions) values() url.Values {
	groups := o.IncludeGroups
	if len(groups) == 0 {
		groups = []string{"album", "single"}
	}
	market := strings.TrimSpace(o.Market)
	if market == "" {
		market = "US"
	}
	limit := o.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	offset := o.Offset
	if offset < 0 {
		offset = 0
	}
	return url.Values{
		"include_groups": {strings.Join(groups, ",")},
		"market":         {market},
		"limit":          {strconv.Itoa(limit)},
		"offset":         {strconv.Itoa(offset)},
	}
}

func (c *Client) GetArtist(ctx context.Context, id string) (Artist, error) {
	if strings.TrimSpace(id) == "" {
		return Artist{}, errors.New("artist id required")
	}
	var a Artist
	err := c.Request(ctx, "/artists/"+url.PathEscape(id), nil, &a)
	return a, err
}

func (c *Client) GetArtistAlbums(ctx context.Context, id string, opt AlbumsOptions) (Paging[Album], error) {
	if strings.TrimSpace(id) == "" {
		return Paging[Album]{}, errors.New("artist id required")
	}
	var p Paging[Album]
	err := c.Request(ctx, "/artists/"+url.PathEscape(id)+"/albums", opt.values(), &p)
	return p, err
}

func (c *Client) GetAlbum(ctx context.Context, id string) (Album, error) {
	if strings.TrimSpace(id) == "" {
		return Album{}, errors.New("album id required")
	}
	var a Album
	err := c.Request(ctx, "/albums/"+url.PathEscape(id), nil, &a)
	return a, err
}

// SearchArtists runs an artist search; limit defaults to 20.
func (c *Client) SearchArtists(ctx context.Context, query string, limit int) ([]Artist, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query required")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	var res struct {
		Artists Paging[Artist] `json:"artists"`
	}
	params := url.Values{"q": {query}, "type": {"artist"}, "limit": {strconv.Itoa(limit)}}
	if err := c.Request(ctx, "/search", params, &res); err != nil {
		return nil, err
	}
	return res.Artists.Items, nil
}
