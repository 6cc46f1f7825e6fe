package elastic

import "encoding/json"

// indexBody returns the create-index request body: settings plus the
// document mapping.
func indexBody(shards, replicas int) ([]byte, error) {
	keyword := map[string]any{"type": "keyword"}
	boolean := map[string]any{"type": "boolean"}
	long := map[string]any{"type": "long"}
	text := map[string]any{"type": "text"}
	date := map[string]any{"type": "date"}
	address := map[string]any{
		"properties": map[string]any{
			"name":    text,
			"address": keyword,
		},
	}

	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
		},
		"mappings": map[string]any{
			"dynamic": false,
			"properties": map[string]any{
				"mailbox_id":    keyword,
				"uid":           long,
				"mod_seq":       long,
				"size":          long,
				"internal_date": date,
				"sent_date":     date,
				"users":         keyword,
				"message_id":    keyword,
				"subject":       text,
				"from":          address,
				"to":            address,
				"cc":            address,
				"bcc":           address,
				"reply_to":      address,
				"headers": map[string]any{
					"type": "nested",
					"properties": map[string]any{
						"name":  keyword,
						"value": text,
					},
				},
				"media_type":     keyword,
				"text_body":      text,
				"html_body":      text,
				"has_attachment": boolean,
				"attachments": map[string]any{
					"properties": map[string]any{
						"filename":     keyword,
						"content_type": keyword,
						"size":         long,
						"text_content": text,
					},
				},
				"is_answered": boolean,
				"is_deleted":  boolean,
				"is_draft":    boolean,
				"is_flagged":  boolean,
				"is_recent":   boolean,
				"is_unread":   boolean,
				"user_flags":  keyword,
			},
		},
	}
	return json.Marshal(body)
}
