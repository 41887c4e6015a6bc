package tilepack

// Request is one unit of work for a BatchDownloader.
type Request interface {
	Endpoint() string
}

// TileRequest asks one mirror for one tile.
type TileRequest struct {
	Tile Tile
	Host string
}

func (r *TileRequest) Endpoint() string {
	return r.Host + r.Tile.URLPath()
}

type fetchResult[R Request] struct {
	request    R
	client     Client
	statusCode int
	body       []byte
	err        error
}
