package validation

// 请求体 JSON Schema。字段语义检查（联系方式格式、乱码等）在服务层完成。

const applySchema = `{
  "type": "object",
  "required": ["recruitmentId", "contact"],
  "properties": {
    "recruitmentId": {"type": "string", "minLength": 1},
    "contact": {"type": "string", "minLength": 1, "maxLength": 200},
    "name": {"type": ["string", "null"], "maxLength": 100},
    "message": {"type": ["string", "null"], "maxLength": 2000}
  }
}`

const editSchema = `{
  "type": "object",
  "required": ["contact"],
  "properties": {
    "contact": {"type": "string", "minLength": 1, "maxLength": 200},
    "name": {"type": ["string", "null"], "maxLength": 100},
    "message": {"type": ["string", "null"], "maxLength": 2000}
  }
}`

const withdrawSchema = `{
  "type": "object",
  "required": ["contact"],
  "properties": {
    "contact": {"type": "string", "minLength": 1, "maxLength": 200}
  }
}`

const createRecruitmentSchema = `{
  "type": "object",
  "required": ["title", "capacity"],
  "properties": {
    "title": {"type": "string", "minLength": 1, "maxLength": 200},
    "description": {"type": "string", "maxLength": 10000},
    "content": {"type": "string", "maxLength": 10000},
    "capacity": {"type": "integer", "minimum": 1}
  },
  "anyOf": [
    {"required": ["description"]},
    {"required": ["content"]}
  ]
}`

const updateRecruitmentSchema = `{
  "type": "object",
  "minProperties": 1,
  "properties": {
    "title": {"type": "string", "minLength": 1, "maxLength": 200},
    "content": {"type": "string", "minLength": 1, "maxLength": 10000},
    "capacity": {"type": "integer", "minimum": 1},
    "status": {"type": "string", "enum": ["open", "closed"]}
  }
}`

const statusSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["open", "closed"]}
  }
}`

const loginSchema = `{
  "type": "object",
  "required": ["secret"],
  "properties": {
    "secret": {"type": "string", "minLength": 1}
  }
}`

const identifySchema = `{
  "type": "object",
  "required": ["churchCode", "name", "phoneLast4"],
  "properties": {
    "churchCode": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1, "maxLength": 100},
    "phoneLast4": {"type": "string", "pattern": "^[0-9]{4}$"}
  }
}`
