package tiktok

// RawVideo is one upstream video object as decoded from JSON. Numbers are
// decoded as json.Number.
type RawVideo map[string]any

// FieldMap names where each canonical field lives in a RawVideo. Paths are
// dot separated ("author.uniqueId"). An empty path leaves the field at its
// zero value.
type FieldMap struct {
	ID            string
	Description   string
	CreatedAt     string
	CreatorHandle string
	CreatorName   string
	Views         string
	Likes         string
	Comments      string
	Shares        string
	MusicTitle    string
	MusicAuthor   string
	PlaybackURL   string
}

// RemoteFields is the field layout of the public research API.
var RemoteFields = FieldMap{
	ID:            "id",
	Description:   "video_description",
	CreatedAt:     "create_time",
	CreatorHandle: "author.username",
	CreatorName:   "author.display_name",
	Views:         "view_count",
	Likes:         "like_count",
	Comments:      "comment_count",
	Shares:        "share_count",
	MusicTitle:    "music_info.title",
	MusicAuthor:   "music_info.author",
	PlaybackURL:   "embed_link",
}

// SubstituteFields is the field layout of the local fixture corpus, which
// follows the web item structure.
var SubstituteFields = FieldMap{
	ID:            "id",
	Description:   "desc",
	CreatedAt:     "createTime",
	CreatorHandle: "author.uniqueId",
	CreatorName:   "author.nickname",
	Views:         "stats.playCount",
	Likes:         "stats.diggCount",
	Comments:      "stats.commentCount",
	Shares:        "stats.shareCount",
	MusicTitle:    "music.title",
	MusicAuthor:   "music.authorName",
	PlaybackURL:   "video.playAddr",
}

// remoteFieldList is the fields query parameter sent with every video request.
const remoteFieldList = "id,video_description,create_time,like_count,comment_count,share_count,view_count,music_info,author,embed_link"
