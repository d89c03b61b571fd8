package agent

import (
	"encoding/base64"
	"strings"

	"github.com/bashmyhed/agentcore/pkg/models"
)

// artifactKindsByMime maps a MIME type prefix to the attachment kind used
// when an artifact's own Type doesn't already name one.
var artifactKindsByMime = []struct {
	prefix string
	kind   string
}{
	{"image/", "image"},
	{"video/", "video"},
	{"audio/", "audio"},
}

func attachmentKind(artifactType, mimeType string) string {
	switch artifactType {
	case "screenshot", "image":
		return "image"
	case "recording", "video":
		return "video"
	case "audio":
		return "audio"
	}
	for _, k := range artifactKindsByMime {
		if strings.HasPrefix(mimeType, k.prefix) {
			return k.kind
		}
	}
	return "file"
}

func artifactsToAttachments(artifacts []Artifact) []models.Attachment {
	if len(artifacts) == 0 {
		return nil
	}
	attachments := make([]models.Attachment, 0, len(artifacts))
	for _, art := range artifacts {
		attachment := models.Attachment{
			ID:       art.ID,
			Type:     attachmentKind(art.Type, art.MimeType),
			Filename: art.Filename,
			MimeType: art.MimeType,
			Size:     int64(len(art.Data)),
			URL:      art.URL,
		}
		if attachment.URL == "" && len(art.Data) > 0 && art.MimeType != "" {
			attachment.URL = "data:" + art.MimeType + ";base64," + base64.StdEncoding.EncodeToString(art.Data)
		}
		attachments = append(attachments, attachment)
	}
	return attachments
}
