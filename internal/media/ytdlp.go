package media

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/sirupsen/logrus"
)

const progressInterval = 500 * time.Millisecond

// YtdlpClient implements Resolver and Fetcher on top of the yt-dlp binary
// via go-ytdlp.
type YtdlpClient struct {
	logger *logrus.Logger
}

func NewYtdlpClient(logger *logrus.Logger) *YtdlpClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &YtdlpClient{logger: logger}
}

// rawInfo mirrors the subset of yt-dlp's --dump-single-json payload we use.
type rawInfo struct {
	Type       string      `json:"_type"`
	Title      string      `json:"title"`
	Uploader   string      `json:"uploader"`
	Channel    string      `json:"channel"`
	Duration   float64     `json:"duration"`
	Thumbnail  string      `json:"thumbnail"`
	WebpageURL string      `json:"webpage_url"`
	Formats    []rawFormat `json:"formats"`
	Entries    []rawEntry  `json:"entries"`
}

type rawFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	FPS            float64 `json:"fps"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	FormatNote     string  `json:"format_note"`
}

type rawEntry struct {
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	ViewCount  int64   `json:"view_count"`
}

func (c *YtdlpClient) Resolve(ctx context.Context, url string) (*Info, error) {
	dl := ytdlp.New().
		SkipDownload().
		DumpSingleJSON().
		NoWarnings()

	res, err := dl.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("extract info for %s: %w", url, err)
	}

	var raw rawInfo
	if err := json.Unmarshal([]byte(res.Stdout), &raw); err != nil {
		return nil, fmt.Errorf("parse yt-dlp info: %w", err)
	}

	info := &Info{
		URL:             url,
		Title:           raw.Title,
		Channel:         firstNonEmpty(raw.Uploader, raw.Channel),
		DurationSeconds: raw.Duration,
		Thumbnail:       raw.Thumbnail,
		IsPlaylist:      raw.Type == "playlist" || len(raw.Entries) > 0,
	}

	if info.IsPlaylist {
		info.PlaylistTitle = raw.Title
		info.Entries = convertEntries(raw.Entries)
	} else {
		info.Formats = parseFormats(raw.Formats)
	}

	c.logger.WithField("url", url).Debugf("resolved %q (playlist=%v, entries=%d)",
		info.Title, info.IsPlaylist, len(info.Entries))
	return info, nil
}

func (c *YtdlpClient) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	dl := ytdlp.New().
		SkipDownload().
		DumpSingleJSON().
		FlatPlaylist().
		NoWarnings()

	res, err := dl.Run(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	var raw rawInfo
	if err := json.Unmarshal([]byte(res.Stdout), &raw); err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	return convertEntries(raw.Entries), nil
}

func (c *YtdlpClient) Fetch(ctx context.Context, req FetchRequest, onProgress func(Progress)) (string, error) {
	dl := ytdlp.New().
		Continue().
		RestrictFilenames().
		NoPlaylist().
		NoWarnings().
		Format(req.Format).
		Output(filepath.Join(req.Dir, req.OutputName))

	if req.SpeedLimit != "" {
		dl = dl.LimitRate(req.SpeedLimit)
	}
	if req.Proxy != "" {
		dl = dl.Proxy(req.Proxy)
	}
	if req.Subtitles {
		dl = dl.WriteSubs().WriteAutoSubs()
		if req.SubtitleLangs != "" {
			dl = dl.SubLangs(req.SubtitleLangs)
		}
	}
	if req.WriteThumbnail {
		dl = dl.WriteThumbnail()
	}

	if onProgress != nil {
		dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
			p := Progress{
				Downloaded: int64(update.DownloadedBytes),
				Total:      int64(update.TotalBytes),
				ETASeconds: -1,
			}
			if p.Total > 0 {
				p.Percent = float64(p.Downloaded) / float64(p.Total) * 100
			}
			if !update.Started.IsZero() {
				if elapsed := time.Since(update.Started).Seconds(); elapsed > 0 {
					p.Speed = int64(float64(p.Downloaded) / elapsed)
				}
			}
			if eta := update.ETA(); eta > 0 {
				p.ETASeconds = int(eta.Seconds())
			}
			onProgress(p)
		})
	}

	res, err := dl.Run(ctx, req.URL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", req.URL, err)
	}

	if file := extractedFilename(res); file != "" {
		return file, nil
	}
	return findFetchedFile(req.Dir, req.OutputName)
}

func extractedFilename(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}
	info, err := res.GetExtractedInfo()
	if err != nil || len(info) == 0 {
		return ""
	}
	if info[0].Filename != nil {
		return *info[0].Filename
	}
	return ""
}

// findFetchedFile locates the downloaded media when yt-dlp did not report a
// filename, by globbing the output template's stem.
func findFetchedFile(dir, outputName string) (string, error) {
	stem := outputName
	if i := strings.Index(stem, ".%("); i > 0 {
		stem = stem[:i]
	}
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		switch filepath.Ext(m) {
		case ".part", ".ytdl", ".json", ".jpg", ".webp", ".png", ".srt", ".vtt":
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("downloaded file not found in %s", dir)
}

func convertEntries(raw []rawEntry) []Entry {
	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		u := firstNonEmpty(e.WebpageURL, e.URL)
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http") {
			u = "https://www.youtube.com/watch?v=" + u
		}
		entries = append(entries, Entry{
			URL:             u,
			Title:           e.Title,
			Channel:         firstNonEmpty(e.Uploader, e.Channel),
			DurationSeconds: e.Duration,
			Thumbnail:       e.Thumbnail,
			ViewCount:       e.ViewCount,
		})
	}
	return entries
}

// parseFormats dedupes and sorts the raw format list, highest resolution
// first, for presentation.
func parseFormats(raw []rawFormat) []Format {
	type key struct {
		resolution, ext, vcodec, acodec string
	}
	seen := make(map[key]struct{})
	formats := make([]Format, 0, len(raw))

	for _, f := range raw {
		resolution := "unknown"
		switch {
		case f.Height > 0:
			resolution = fmt.Sprintf("%dp", f.Height)
		case f.Width > 0:
			resolution = fmt.Sprintf("%dp", f.Width)
		case f.VCodec == "none" || f.VCodec == "":
			resolution = "audio only"
		}

		k := key{resolution, f.Ext, f.VCodec, f.ACodec}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}

		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		out := Format{
			ID:         f.FormatID,
			Ext:        f.Ext,
			Resolution: resolution,
			FPS:        f.FPS,
			Filesize:   size,
			Note:       f.FormatNote,
		}
		if f.VCodec != "none" {
			out.VCodec = f.VCodec
		}
		if f.ACodec != "none" {
			out.ACodec = f.ACodec
		}
		formats = append(formats, out)
	}

	sort.SliceStable(formats, func(i, j int) bool {
		ri, rj := resolutionRank(formats[i].Resolution), resolutionRank(formats[j].Resolution)
		if ri != rj {
			return ri > rj
		}
		return formats[i].Ext < formats[j].Ext
	})
	return formats
}

func resolutionRank(res string) int {
	var n int
	if _, err := fmt.Sscanf(res, "%dp", &n); err != nil {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// FriendlyMessage converts raw yt-dlp error text into user-facing phrasing.
func FriendlyMessage(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "private"):
		return "This video is private and cannot be downloaded."
	case strings.Contains(lower, "age"):
		return "This video is age-restricted. Try logging in or using cookies."
	case strings.Contains(lower, "unavailable"), strings.Contains(lower, "not available"):
		return "This video is unavailable in your region or has been removed."
	case strings.Contains(lower, "urlopen"), strings.Contains(lower, "connection"), strings.Contains(lower, "network"), strings.Contains(lower, "timed out"):
		return "Network error, please check your internet connection and try again."
	}
	return msg
}
