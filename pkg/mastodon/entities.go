// Copyright 2024-2026 Aiku AI

package mastodon

// Wire entities for the subset of the Mastodon REST API the mirror
// consumes.

type instanceV2 struct {
	Configuration struct {
		Statuses struct {
			MaxCharacters            int `json:"max_characters"`
			MaxMediaAttachments      int `json:"max_media_attachments"`
			CharactersReservedPerURL int `json:"characters_reserved_per_url"`
		} `json:"statuses"`
		MediaAttachments struct {
			SupportedMimeTypes []string `json:"supported_mime_types"`
			ImageSizeLimit     int64    `json:"image_size_limit"`
			VideoSizeLimit     int64    `json:"video_size_limit"`
			DescriptionLimit   int64    `json:"description_limit"`
		} `json:"media_attachments"`
		Polls struct {
			MaxOptions             int   `json:"max_options"`
			MaxCharactersPerOption int   `json:"max_characters_per_option"`
			MinExpiration          int64 `json:"min_expiration"`
			MaxExpiration          int64 `json:"max_expiration"`
		} `json:"polls"`
	} `json:"configuration"`
}

type account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
}

type mediaAttachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type status struct {
	ID               string            `json:"id"`
	URL              string            `json:"url"`
	Visibility       string            `json:"visibility"`
	SpoilerText      string            `json:"spoiler_text"`
	Content          string            `json:"content"`
	Text             string            `json:"text"`
	MediaAttachments []mediaAttachment `json:"media_attachments"`
	Pinned           bool              `json:"pinned"`
}

type statusSource struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SpoilerText string `json:"spoiler_text"`
}

type apiError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}
