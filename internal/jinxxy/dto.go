package jinxxy

// PartialProduct 是 GET /products 列表中的单项，不含版本信息。
type PartialProduct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FullProduct 在 PartialProduct 基础上附带全部版本，来自 GET /products/{id}。
type FullProduct struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Versions []ProductVersion `json:"versions"`
}

// Partial 丢弃版本信息。
func (p FullProduct) Partial() PartialProduct {
	return PartialProduct{ID: p.ID, Name: p.Name}
}

// ProductVersion 描述单个产品版本。
type ProductVersion struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type productList struct {
	Results []PartialProduct `json:"results"`
}

// errorBody 是 Jinxxy 未公开的错误响应格式：
//
//	{"status_code": 500, "error": "Bad Request", "message": "You are not authorized.", "code": "GRAPHQL_ERROR"}
type errorBody struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
}
