package entity

// Catalog 返回内置 CRM 实体描述（未补全系统列）
func Catalog() []Descriptor {
	return []Descriptor{
		{
			Name: Leads,
			Columns: []Column{
				{Field: "firstName", Column: "first_name", Type: TypeString, Searchable: true, Required: true, MaxLength: 100},
				{Field: "lastName", Column: "last_name", Type: TypeString, Searchable: true, MaxLength: 100},
				{Field: "email", Column: "email", Type: TypeString, Searchable: true, MaxLength: 255},
				{Field: "phone", Column: "phone", Type: TypeString, Searchable: true, MaxLength: 50},
				{Field: "company", Column: "company", Type: TypeString, Searchable: true, MaxLength: 200},
				{Field: "source", Column: "source", Type: TypeString, MaxLength: 50},
				{Field: "status", Column: "status", Type: TypeString, MaxLength: 50},
				{Field: "estimatedValue", Column: "estimated_value", Type: TypeFloat},
			},
			Risk: RiskPolicy{Critical: []string{"email"}, High: []string{"status"}},
		},
		{
			Name: Contacts,
			Columns: []Column{
				{Field: "firstName", Column: "first_name", Type: TypeString, Searchable: true, Required: true, MaxLength: 100},
				{Field: "lastName", Column: "last_name", Type: TypeString, Searchable: true, MaxLength: 100},
				{Field: "email", Column: "email", Type: TypeString, Searchable: true, MaxLength: 255},
				{Field: "phone", Column: "phone", Type: TypeString, Searchable: true, MaxLength: 50},
				{Field: "jobTitle", Column: "job_title", Type: TypeString, Searchable: true, MaxLength: 100},
				{Field: "accountId", Column: "account_id", Type: TypeInt},
			},
			Risk: RiskPolicy{Critical: []string{"email", "accountId"}, High: []string{"phone"}},
		},
		{
			Name: Accounts,
			Columns: []Column{
				{Field: "name", Column: "name", Type: TypeString, Searchable: true, Required: true, MaxLength: 200},
				{Field: "industry", Column: "industry", Type: TypeString, Searchable: true, MaxLength: 100},
				{Field: "website", Column: "website", Type: TypeString, MaxLength: 255},
				{Field: "phone", Column: "phone", Type: TypeString, MaxLength: 50},
				{Field: "annualRevenue", Column: "annual_revenue", Type: TypeFloat},
				{Field: "employees", Column: "employees", Type: TypeInt},
			},
			Risk: RiskPolicy{Critical: []string{"name"}, High: []string{"industry"}},
		},
		{
			Name: Opportunities,
			Columns: []Column{
				{Field: "name", Column: "name", Type: TypeString, Searchable: true, Required: true, MaxLength: 200},
				{Field: "accountId", Column: "account_id", Type: TypeInt},
				{Field: "stage", Column: "stage", Type: TypeString, Searchable: true, MaxLength: 50},
				{Field: "amount", Column: "amount", Type: TypeFloat},
				{Field: "probability", Column: "probability", Type: TypeInt},
				{Field: "closeDate", Column: "close_date", Type: TypeTime},
			},
			Risk: RiskPolicy{Critical: []string{"amount", "stage"}, High: []string{"closeDate", "probability"}},
		},
		{
			Name: Tickets,
			Columns: []Column{
				{Field: "subject", Column: "subject", Type: TypeString, Searchable: true, Required: true, MaxLength: 200},
				{Field: "description", Column: "description", Type: TypeString, Searchable: true, MaxLength: 4000},
				{Field: "priority", Column: "priority", Type: TypeString, MaxLength: 20},
				{Field: "status", Column: "status", Type: TypeString, MaxLength: 50},
				{Field: "assignee", Column: "assignee", Type: TypeString, Searchable: true, MaxLength: 100},
				{Field: "contactId", Column: "contact_id", Type: TypeInt},
			},
			Risk: RiskPolicy{Critical: []string{"priority"}, High: []string{"status", "assignee"}},
		},
		{
			Name: ServiceOrders,
			Columns: []Column{
				{Field: "title", Column: "title", Type: TypeString, Searchable: true, Required: true, MaxLength: 200},
				{Field: "category", Column: "category", Type: TypeString, Searchable: true, Required: true, MaxLength: 50},
				{Field: "status", Column: "status", Type: TypeString, MaxLength: 50},
				{Field: "customerName", Column: "customer_name", Type: TypeString, Searchable: true, MaxLength: 200},
				{Field: "customerEmail", Column: "customer_email", Type: TypeString, Searchable: true, MaxLength: 255},
				{Field: "budget", Column: "budget", Type: TypeFloat},
				{Field: "urgent", Column: "urgent", Type: TypeBool},
				{Field: "description", Column: "description", Type: TypeString, MaxLength: 4000},
			},
			Risk: RiskPolicy{Critical: []string{"category", "budget"}, High: []string{"status", "urgent"}},
		},
	}
}

// Default 返回内置 CRM 注册表
func Default() *Registry {
	r, err := NewRegistry(Catalog()...)
	if err != nil {
		panic(err)
	}
	return r
}
