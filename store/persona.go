package store

// Persona is the stored presentation profile of a bot account. Gender and
// display name are resolved from the process-wide override table, not here.
type Persona struct {
	AccountName       string
	Tone              string
	Verbosity         string
	StyleHint         string
	TopicsJSON        string // JSON array of tag strings
	TopicPriority     int    // 0..100
	OfftopicTolerance int    // 0..100
}

// FindPersona is the find condition for personas.
type FindPersona struct {
	AccountName *string
}

// UpsertPersona inserts or replaces a persona by account name.
type UpsertPersona struct {
	AccountName       string
	Tone              string
	Verbosity         string
	StyleHint         string
	TopicsJSON        string
	TopicPriority     int
	OfftopicTolerance int
}
