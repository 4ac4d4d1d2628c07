package types

type User struct {
	Id       int    `json:"id,omitempty"`
	Username string `json:"username"`
	Status   string `json:"status,omitempty"`
}

type Attachment struct {
	Id               int    `json:"id"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size,omitempty"`
}

// Message is the record the server sends over the channel and in
// historical fetches. Content holds the encryption envelope when
// IsDirectMessage is true. Live direct messages may omit the flag.
type Message struct {
	Id              int          `json:"id"`
	Username        string       `json:"username"`
	Content         string       `json:"content"`
	Timestamp       string       `json:"timestamp"`
	ParentId        *int         `json:"parent_id,omitempty"`
	ParentUsername  string       `json:"parent_username,omitempty"`
	ParentContent   string       `json:"parent_content,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	ProfilePic      string       `json:"profile_pic,omitempty"`
	IsDirectMessage *bool        `json:"is_direct_message,omitempty"`
	IsAdmin         bool         `json:"is_admin,omitempty"`
	RoomId          *int         `json:"room_id,omitempty"`
	RecipientId     *int         `json:"recipient_id,omitempty"`
}

// DirectFlag returns the is_direct_message value and whether the server
// sent it at all.
func (m Message) DirectFlag() (direct, set bool) {
	if m.IsDirectMessage == nil {
		return false, false
	}
	return *m.IsDirectMessage, true
}

type SystemMessage struct {
	Message string `json:"message"`
}

type ReactionEntry struct {
	Count   int   `json:"count"`
	UserIds []int `json:"user_ids"`
}

// Reactions maps an emoji to the users that applied it.
type Reactions map[string]ReactionEntry

type ReactionsUpdate struct {
	MessageId int       `json:"message_id"`
	Reactions Reactions `json:"reactions"`
}

type Room struct {
	Id          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`
}
