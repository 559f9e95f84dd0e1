package openapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/soetuniversity/portal/internal/model"
)

// Endpoint describes one documented route.
type Endpoint struct {
	Method      string
	Path        string
	Tag         string
	Summary     string
	Secured     bool
	Request     string // component schema name, empty for no body
	Response    string // component schema name
	Status      int
	ErrorStatus []int
	Params      openapi3.Parameters
}

// Generate builds the OpenAPI 3.1 document for the portal API. Upload routes
// are included only when withUploads is set.
func Generate(baseURL, version string, withUploads bool) *openapi3.T {
	if version == "" {
		version = "1.0.0"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Portal Admin API",
			Description: "Authentication, account administration and content management for the university portal.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	endpoints := Endpoints()
	if withUploads {
		endpoints = append(endpoints, UploadEndpoints()...)
	}
	for _, ep := range endpoints {
		addEndpoint(doc, ep)
	}
	return doc
}

func addEndpoint(doc *openapi3.T, ep Endpoint) {
	item := doc.Paths.Value(ep.Path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(ep.Path, item)
	}

	op := &openapi3.Operation{
		Tags:        []string{ep.Tag},
		Summary:     ep.Summary,
		OperationID: operationID(ep),
		Parameters:  append(pathParameters(ep.Path), ep.Params...),
		Responses:   newResponses(ep),
	}
	if ep.Secured {
		op.Security = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	}
	if ep.Request != "" {
		content := openapi3.NewContentWithJSONSchemaRef(schemaRef(ep.Request))
		if ep.Request == "UploadForm" {
			content = openapi3.Content{"multipart/form-data": openapi3.NewMediaType().WithSchemaRef(schemaRef(ep.Request))}
		}
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{Required: true, Content: content},
		}
	}
	item.SetOperation(ep.Method, op)
}

// Endpoints lists the routes that are always mounted.
func Endpoints() []Endpoint {
	listParams := announcementListParameters()
	return []Endpoint{
		{Method: http.MethodPost, Path: "/api/v1/auth/login", Tag: "auth", Summary: "Exchange email and password for a session token",
			Request: "LoginRequest", Response: "LoginResponse", Status: 200, ErrorStatus: []int{400, 401, 429}},
		{Method: http.MethodPost, Path: "/api/v1/auth/register", Tag: "auth", Summary: "Create an admin account (super admin only)", Secured: true,
			Request: "RegisterRequest", Response: "AdminEnvelope", Status: 201, ErrorStatus: []int{400, 401, 403}},
		{Method: http.MethodGet, Path: "/api/v1/auth/me", Tag: "auth", Summary: "Return the calling account", Secured: true,
			Response: "AdminEnvelope", Status: 200, ErrorStatus: []int{401}},
		{Method: http.MethodPut, Path: "/api/v1/auth/profile", Tag: "auth", Summary: "Update the calling account's profile", Secured: true,
			Request: "ProfileRequest", Response: "AdminEnvelope", Status: 200, ErrorStatus: []int{400, 401}},
		{Method: http.MethodPost, Path: "/api/v1/auth/change-password", Tag: "auth", Summary: "Change the calling account's password", Secured: true,
			Request: "ChangePasswordRequest", Response: "Message", Status: 200, ErrorStatus: []int{400, 401}},
		{Method: http.MethodPost, Path: "/api/v1/auth/logout", Tag: "auth", Summary: "Record a logout", Secured: true,
			Response: "Message", Status: 200, ErrorStatus: []int{401}},

		{Method: http.MethodGet, Path: "/api/v1/admins", Tag: "admins", Summary: "List admin accounts", Secured: true,
			Response: "AdminList", Status: 200, ErrorStatus: []int{401, 403}},
		{Method: http.MethodGet, Path: "/api/v1/admins/{adminId}", Tag: "admins", Summary: "Get an admin account", Secured: true,
			Response: "AdminEnvelope", Status: 200, ErrorStatus: []int{401, 403, 404}},
		{Method: http.MethodPut, Path: "/api/v1/admins/{adminId}/permissions", Tag: "admins", Summary: "Replace an account's permissions", Secured: true,
			Request: "PermissionsRequest", Response: "AdminEnvelope", Status: 200, ErrorStatus: []int{400, 401, 403, 404}},
		{Method: http.MethodPost, Path: "/api/v1/admins/{adminId}/unlock", Tag: "admins", Summary: "Clear an account's login lockout", Secured: true,
			Response: "Message", Status: 200, ErrorStatus: []int{401, 403, 404}},
		{Method: http.MethodPost, Path: "/api/v1/admins/{adminId}/deactivate", Tag: "admins", Summary: "Deactivate an account", Secured: true,
			Response: "AdminEnvelope", Status: 200, ErrorStatus: []int{400, 401, 403, 404}},
		{Method: http.MethodPost, Path: "/api/v1/admins/{adminId}/activate", Tag: "admins", Summary: "Reactivate an account", Secured: true,
			Response: "AdminEnvelope", Status: 200, ErrorStatus: []int{401, 403, 404}},
		{Method: http.MethodPut, Path: "/api/v1/admins/{adminId}/role", Tag: "admins", Summary: "Change an account's role", Secured: true,
			Request: "RoleRequest", Response: "AdminEnvelope", Status: 200, ErrorStatus: []int{400, 401, 403, 404}},

		{Method: http.MethodGet, Path: "/api/v1/announcements", Tag: "announcements", Summary: "List announcements",
			Response: "AnnouncementList", Status: 200, Params: listParams},
		{Method: http.MethodPost, Path: "/api/v1/announcements", Tag: "announcements", Summary: "Create an announcement", Secured: true,
			Request: "AnnouncementInput", Response: "Announcement", Status: 201, ErrorStatus: []int{400, 401, 403}},
		{Method: http.MethodGet, Path: "/api/v1/announcements/{id}", Tag: "announcements", Summary: "Get an announcement",
			Response: "Announcement", Status: 200, ErrorStatus: []int{404}},
		{Method: http.MethodPut, Path: "/api/v1/announcements/{id}", Tag: "announcements", Summary: "Update an announcement", Secured: true,
			Request: "AnnouncementInput", Response: "Announcement", Status: 200, ErrorStatus: []int{400, 401, 403, 404}},
		{Method: http.MethodDelete, Path: "/api/v1/announcements/{id}", Tag: "announcements", Summary: "Delete an announcement", Secured: true,
			Response: "Message", Status: 200, ErrorStatus: []int{401, 403, 404}},
	}
}

// UploadEndpoints lists the routes mounted when an object store is configured.
func UploadEndpoints() []Endpoint {
	return []Endpoint{
		{Method: http.MethodPost, Path: "/api/v1/uploads", Tag: "uploads", Summary: "Upload an attachment", Secured: true,
			Request: "UploadForm", Response: "UploadResult", Status: 201, ErrorStatus: []int{400, 401, 403, 413}},
		{Method: http.MethodDelete, Path: "/api/v1/uploads/{handle}", Tag: "uploads", Summary: "Delete an uploaded attachment", Secured: true,
			Response: "Message", Status: 200, ErrorStatus: []int{401, 403, 404}},
	}
}

func operationID(ep Endpoint) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(ep.Method))
	for _, part := range strings.Split(strings.TrimPrefix(ep.Path, "/api/v1/"), "/") {
		part = strings.Trim(part, "{}")
		part = strings.ReplaceAll(part, "-", "_")
		b.WriteString("_")
		b.WriteString(part)
	}
	return b.String()
}

func pathParameters(path string) openapi3.Parameters {
	var params openapi3.Parameters
	for _, part := range strings.Split(path, "/") {
		if !strings.HasPrefix(part, "{") {
			continue
		}
		name := strings.Trim(part, "{}")
		typ := "integer"
		if name == "handle" {
			typ = "string"
		}
		params = append(params, &openapi3.ParameterRef{
			Value: openapi3.NewPathParameter(name).WithSchema(&openapi3.Schema{Type: &openapi3.Types{typ}}),
		})
	}
	return params
}

func announcementListParameters() openapi3.Parameters {
	str := func(name, desc string, enum ...string) *openapi3.ParameterRef {
		s := &openapi3.Schema{Type: &openapi3.Types{"string"}}
		for _, e := range enum {
			s.Enum = append(s.Enum, e)
		}
		return &openapi3.ParameterRef{Value: openapi3.NewQueryParameter(name).WithDescription(desc).WithSchema(s)}
	}
	num := func(name, desc string) *openapi3.ParameterRef {
		return &openapi3.ParameterRef{Value: openapi3.NewQueryParameter(name).WithDescription(desc).
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}})}
	}
	boolean := func(name, desc string) *openapi3.ParameterRef {
		return &openapi3.ParameterRef{Value: openapi3.NewQueryParameter(name).WithDescription(desc).
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"boolean"}})}
	}
	return openapi3.Parameters{
		str("category", "Filter by category.", model.AnnouncementCategories...),
		str("priority", "Filter by priority.", model.AnnouncementPriorities...),
		str("search", "Case-insensitive match on title or content."),
		boolean("pinned", "Only pinned announcements."),
		boolean("active_only", "Set false to include inactive items (authenticated callers only)."),
		num("page", "1-based page number."),
		num("limit", "Page size, 1 to 100."),
	}
}

func newResponses(ep Endpoint) *openapi3.Responses {
	responses := openapi3.NewResponses()

	desc := http.StatusText(ep.Status)
	responses.Set(strconv.Itoa(ep.Status), &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schemaRef(ep.Response)),
		},
	})

	errorRef := schemaRef("ErrorResponse")
	for _, code := range append(ep.ErrorStatus, http.StatusInternalServerError) {
		d := http.StatusText(code)
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

func schemaRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

// ─── Schema Builders ────────────────────────────────────────────────────────

func prop(typ, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}, Format: format}}
}

func enumProp(values ...string) *openapi3.SchemaRef {
	s := &openapi3.Schema{Type: &openapi3.Types{"string"}}
	for _, v := range values {
		s.Enum = append(s.Enum, v)
	}
	return &openapi3.SchemaRef{Value: s}
}

func arrayOf(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: items}}
}

func object(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func componentSchemas() openapi3.Schemas {
	perms := make([]string, len(model.AllPermissions))
	for i, p := range model.AllPermissions {
		perms[i] = string(p)
	}
	roles := []string{string(model.RoleAdmin), string(model.RoleSuperAdmin)}

	admin := object(openapi3.Schemas{
		"id":             prop("integer", "int64"),
		"username":       prop("string", ""),
		"email":          prop("string", "email"),
		"name":           prop("string", ""),
		"role":           enumProp(roles...),
		"permissions":    arrayOf(enumProp(perms...)),
		"is_active":      prop("boolean", ""),
		"last_login_at":  prop("string", "date-time"),
		"last_logout_at": prop("string", "date-time"),
		"created_by":     prop("integer", "int64"),
		"created_at":     prop("string", "date-time"),
		"updated_at":     prop("string", "date-time"),
	})

	attachment := object(openapi3.Schemas{
		"name":         prop("string", ""),
		"url":          prop("string", "uri"),
		"handle":       prop("string", ""),
		"content_type": prop("string", ""),
		"size":         prop("integer", "int64"),
	})

	announcementInput := object(openapi3.Schemas{
		"title":        prop("string", ""),
		"content":      prop("string", ""),
		"category":     enumProp(model.AnnouncementCategories...),
		"priority":     enumProp(model.AnnouncementPriorities...),
		"is_active":    prop("boolean", ""),
		"is_pinned":    prop("boolean", ""),
		"publish_date": prop("string", "date-time"),
		"expiry_date":  prop("string", "date-time"),
		"attachments":  arrayOf(schemaRef("Attachment")),
	}, "title", "content", "category")

	announcement := object(openapi3.Schemas{
		"id":           prop("integer", "int64"),
		"title":        prop("string", ""),
		"content":      prop("string", ""),
		"category":     enumProp(model.AnnouncementCategories...),
		"priority":     enumProp(model.AnnouncementPriorities...),
		"is_active":    prop("boolean", ""),
		"is_pinned":    prop("boolean", ""),
		"publish_date": prop("string", "date-time"),
		"expiry_date":  prop("string", "date-time"),
		"attachments":  arrayOf(schemaRef("Attachment")),
		"created_by":   prop("integer", "int64"),
		"modified_by":  prop("integer", "int64"),
		"created_at":   prop("string", "date-time"),
		"updated_at":   prop("string", "date-time"),
	})

	meta := object(openapi3.Schemas{
		"count":  prop("integer", "int32"),
		"total":  prop("integer", "int64"),
		"limit":  prop("integer", "int32"),
		"offset": prop("integer", "int32"),
	})

	errorDetail := object(openapi3.Schemas{
		"code":    prop("integer", "int32"),
		"message": prop("string", ""),
		"context": prop("object", ""),
	})

	return openapi3.Schemas{
		"Admin":        admin,
		"Attachment":   attachment,
		"Announcement": announcement,
		"ResponseMeta": meta,
		"ErrorResponse": object(openapi3.Schemas{
			"error": errorDetail,
		}),
		"Message": object(openapi3.Schemas{
			"success": prop("boolean", ""),
			"message": prop("string", ""),
		}),
		"AdminEnvelope": object(openapi3.Schemas{"admin": schemaRef("Admin")}),
		"AdminList": object(openapi3.Schemas{
			"resource": arrayOf(schemaRef("Admin")),
			"meta":     schemaRef("ResponseMeta"),
		}),
		"AnnouncementList": object(openapi3.Schemas{
			"resource": arrayOf(schemaRef("Announcement")),
			"meta":     schemaRef("ResponseMeta"),
		}),
		"AnnouncementInput": announcementInput,
		"LoginRequest": object(openapi3.Schemas{
			"email":    prop("string", "email"),
			"password": prop("string", "password"),
		}, "email", "password"),
		"LoginResponse": object(openapi3.Schemas{
			"token":      prop("string", ""),
			"token_type": prop("string", ""),
			"expires_in": prop("integer", "int64"),
			"expires_at": prop("string", "date-time"),
			"admin":      schemaRef("Admin"),
		}),
		"RegisterRequest": object(openapi3.Schemas{
			"name":        prop("string", ""),
			"username":    prop("string", ""),
			"email":       prop("string", "email"),
			"password":    prop("string", "password"),
			"role":        enumProp(roles...),
			"permissions": arrayOf(enumProp(perms...)),
		}, "email", "password"),
		"ProfileRequest": object(openapi3.Schemas{
			"name":            prop("string", ""),
			"email":           prop("string", "email"),
			"currentPassword": prop("string", "password"),
			"newPassword":     prop("string", "password"),
		}),
		"ChangePasswordRequest": object(openapi3.Schemas{
			"currentPassword": prop("string", "password"),
			"newPassword":     prop("string", "password"),
			"confirmPassword": prop("string", "password"),
		}, "currentPassword", "newPassword", "confirmPassword"),
		"PermissionsRequest": object(openapi3.Schemas{
			"permissions": arrayOf(enumProp(perms...)),
		}, "permissions"),
		"RoleRequest": object(openapi3.Schemas{
			"role": enumProp(roles...),
		}, "role"),
		"UploadForm": object(openapi3.Schemas{
			"file": prop("string", "binary"),
		}, "file"),
		"UploadResult": object(openapi3.Schemas{
			"url":          prop("string", "uri"),
			"handle":       prop("string", ""),
			"name":         prop("string", ""),
			"size":         prop("integer", "int64"),
			"content_type": prop("string", ""),
		}),
	}
}
