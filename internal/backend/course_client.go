package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ovaphlow/englishbuds/internal/course/entity"
)

// CourseClient reads the course catalog behind the dashboards.
type CourseClient struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

func NewCourseClient(baseURL string, tokens TokenSource, hc *http.Client) *CourseClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &CourseClient{base: strings.TrimRight(baseURL, "/"), http: hc, tokens: tokens}
}

// TeacherCourses lists the teacher's courses, newest first.
func (c *CourseClient) TeacherCourses(ctx context.Context, teacherID string) ([]entity.Course, error) {
	var out []entity.Course
	err := c.get(ctx, "/rest/v1/courses?teacher_id="+url.QueryEscape(teacherID), &out)
	return out, err
}

// PurchasedCourses lists the signed-in user's purchased courses.
func (c *CourseClient) PurchasedCourses(ctx context.Context) ([]entity.Course, error) {
	var out []entity.Course
	err := c.get(ctx, "/rest/v1/courses/purchased", &out)
	return out, err
}

// Contents lists a course's items in position order.
func (c *CourseClient) Contents(ctx context.Context, courseID string) ([]entity.Content, error) {
	var out []entity.Content
	err := c.get(ctx, "/rest/v1/courses/"+url.PathEscape(courseID)+"/contents", &out)
	return out, err
}

func (c *CourseClient) get(ctx context.Context, path string, v any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	resp, err := doJSON(ctx, c.http, http.MethodGet, c.base+path, token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return decodeBody(resp, v)
}
