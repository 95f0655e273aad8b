package response

type Response struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

type ErrorResponse struct {
	StatusCode int      `json:"statusCode"`
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Errors     []string `json:"errors"`
}

func OK(statusCode int, data any, message string) Response {
	return Response{
		StatusCode: statusCode,
		Data:       data,
		Message:    message,
		Success:    statusCode < 400,
	}
}

func Error(statusCode int, message string, errs ...string) ErrorResponse {
	if errs == nil {
		errs = []string{}
	}
	return ErrorResponse{
		StatusCode: statusCode,
		Success:    false,
		Message:    message,
		Errors:     errs,
	}
}
