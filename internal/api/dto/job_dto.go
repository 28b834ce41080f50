package dto

type ImageDTO struct {
	StoragePath string `json:"storage_path" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

type CreateJobRequest struct {
	UserID          string     `json:"user_id" binding:"required"`
	PortalUsername  string     `json:"portal_username" binding:"required"`
	PortalPassword  string     `json:"portal_password" binding:"required"`
	Images          []ImageDTO `json:"images" binding:"required,min=1,dive"`
	DisplayTarget   string     `json:"display_target" binding:"required"`
	IntervalMinutes int        `json:"interval_minutes" binding:"min=0"`
	Cycle           bool       `json:"cycle"`
}

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID           string `json:"job_id"`
	UserID          string `json:"user_id"`
	DisplayTarget   string `json:"display_target"`
	IntervalMinutes int    `json:"interval_minutes"`
	Cycle           bool   `json:"cycle"`
	ImageCount      int    `json:"image_count"`
	Status          string `json:"status"`
	Progress        string `json:"progress"`
	Logs            string `json:"logs"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}
