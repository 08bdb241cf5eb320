package blogapi

// LoginRequest is the payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /auth/login.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// RefreshRequest is the payload for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned from POST /auth/refresh. RefreshToken is empty
// when the server does not rotate it.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// RegisterRequest is the payload for POST /users.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyOTPRequest is the payload for POST /users/verify.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// MessageResponse is a bare confirmation message.
type MessageResponse struct {
	Message string `json:"message"`
}

// User is an account as the API returns it.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Bio       string `json:"bio,omitempty"`
	Image     string `json:"image,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// UpdateUserRequest is the payload for PUT /users/:id. Nil fields are left
// unchanged.
type UpdateUserRequest struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

// Post is a blog post as the API returns it.
type Post struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	ImageURL        string   `json:"image_url,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
	Body            string   `json:"body"`
	Published       bool     `json:"published"`
	PublishDate     string   `json:"publish_date,omitempty"`
	Location        string   `json:"location,omitempty"`
	Lat             float64  `json:"lat,omitempty"`
	Lon             float64  `json:"lon,omitempty"`
	Locale          string   `json:"locale,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
	AuthorUsername  string   `json:"author_username"`
	AuthorAvatarURL string   `json:"author_avatar_url,omitempty"`
	AuthorName      string   `json:"author_name"`
	LikeCount       int      `json:"like_count"`
	UserHasLiked    bool     `json:"user_has_liked"`
}

// Image is a file to upload with a form.
type Image struct {
	Filename string
	Data     []byte
}

// CreatePostRequest is sent as multipart/form-data to POST /posts. Optional
// fields are omitted from the form when zero.
type CreatePostRequest struct {
	Title     string
	Slug      string
	Body      string
	Published bool
	Image     *Image
	Abstract  string
	Location  string
	Lat       float64
	Lon       float64
	Locale    string
	Tags      []string
}
