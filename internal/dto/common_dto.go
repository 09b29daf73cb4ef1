package dto

// PageQuery 分页查询参数
type PageQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`              // 可选：页码，不传默认为1
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"` // 可选：每页数量，不传默认为20
}

// GetPage 获取页码
func (p *PageQuery) GetPage() int {
	if p.Page < 1 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页数量
func (p *PageQuery) GetPageSize() int {
	if p.PageSize < 1 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// RepoParam 实例名路径参数
type RepoParam struct {
	Name string `uri:"name" binding:"required"`
}

// UserInfo 当前运维人员, 由认证中间件写入 context
type UserInfo struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}
