package transfer

import "time"

// JobOptions carries the publish options shared by validate and create requests.
type JobOptions struct {
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags" validate:"omitempty,max=30,dive,max=100"`
	Privacy     string     `json:"privacy" validate:"omitempty,oneof=public unlisted private"`
	ScheduleAt  *time.Time `json:"schedule_at"`
}

type VideoInfo struct {
	Duration float64 `json:"duration" validate:"gt=0"`
	Width    int     `json:"width" validate:"gt=0"`
	Height   int     `json:"height" validate:"gt=0"`
	Size     int64   `json:"size" validate:"gt=0"`
}

// ValidateJobsRequest describes the video either inline or by a stored upload.
type ValidateJobsRequest struct {
	Platforms []string   `json:"platforms" validate:"required,min=1,dive,required"`
	UploadID  string     `json:"upload_id" validate:"omitempty,uuid"`
	Video     *VideoInfo `json:"video" validate:"required_without=UploadID"`
	JobOptions
}

type CreateJobsRequest struct {
	UploadID  string   `json:"upload_id" validate:"required,uuid"`
	Platforms []string `json:"platforms" validate:"required,min=1,dive,oneof=tiktok instagram youtube"`
	JobOptions
}

type CreateJobsResponse struct {
	JobIDs []string `json:"job_ids"`
}
